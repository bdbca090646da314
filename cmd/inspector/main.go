package main

import "github.com/JakeFAU/fda483-pipeline/cmd"

func main() {
	cmd.Execute()
}
