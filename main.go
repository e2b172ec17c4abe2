// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package main

import "github.com/nnetkit/richard/cmd/richard"

func main() {
	cmd.Execute()
}
