package main

import (
	registrywarden "registrywarden/cmd/registrywarden"
)

func main() {
	registrywarden.Execute()
}
