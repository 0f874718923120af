package main

import (
	"github.com/ColonelBlimp/carrierdetect/cmd"
	"github.com/ColonelBlimp/carrierdetect/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
