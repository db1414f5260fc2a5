package main

import (
	"log"
	"os"

	"github.com/dmitrijs2005/tubeauth/internal/hashpw"
)

func main() {
	if err := hashpw.Run(os.Args[1:], os.Stdin, int(os.Stdin.Fd()), os.Stdout, os.Stderr); err != nil {
		log.Fatalf("hashpw: %v", err)
	}
}
