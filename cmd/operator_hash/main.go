// operator_hash genera una entrada para AUTH_OPERATORS con el hash bcrypt de la contraseña.
//
// Uso: go run ./cmd/operator_hash <email> <admin|operator>
// La contraseña se lee de la primera línea de stdin.
// Escribe en stdout: email:rol:hash
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/jhoicas/receipt-cashback/internal/application/auth"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Uso: operator_hash <email> <admin|operator>")
		os.Exit(2)
	}
	email := strings.ToLower(strings.TrimSpace(os.Args[1]))
	role := strings.ToLower(strings.TrimSpace(os.Args[2]))
	if role != "admin" && role != "operator" {
		fmt.Fprintf(os.Stderr, "Rol inválido %q (admin|operator)\n", role)
		os.Exit(2)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "Leer contraseña: %v\n", err)
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "La contraseña debe tener al menos 8 caracteres")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hash: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s:%s:%s\n", email, role, hash)
}
