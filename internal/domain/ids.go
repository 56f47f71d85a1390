package domain

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphanumeric is the nanoid alphabet used for ids and secrets.
const Alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	entityIDLength  = 21
	requestIDLength = 12
)

func newID(prefix string, size int) string {
	id, err := gonanoid.Generate(Alphanumeric, size)
	if err != nil {
		// crypto/rand failure leaves no safe fallback.
		panic("domain: generate id: " + err.Error())
	}
	return prefix + id
}

func NewJobID() string     { return newID("job_", entityIDLength) }
func NewAPIKeyID() string  { return newID("key_", entityIDLength) }
func NewUsageID() string   { return newID("use_", entityIDLength) }
func NewSchemaID() string  { return newID("sch_", entityIDLength) }
func NewRequestID() string { return newID("req_", requestIDLength) }
