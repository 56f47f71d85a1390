package main

import "github.com/jonesrussell/ocrbase/cmd"

func main() {
	cmd.Execute()
}
