package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/service"
	"golang.org/x/term"
)

// Tokens are normally issued by the LMS. This tool mints them for local
// testing and for service-to-service callers of the function endpoints.
func main() {
	var (
		tokenType = flag.String("type", "", "Token type: teacher or service")
		userID    = flag.String("user", "", "User ID (UUID); generated when empty")
		perms     = flag.String("perms", "", "Comma-separated permissions, e.g. evaluation:run,evaluation:edit")
		ttl       = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	reader := bufio.NewReader(os.Stdin)
	interactive := term.IsTerminal(int(syscall.Stdin))

	if interactive {
		fmt.Fprintln(os.Stderr, "=== Issue Access Token ===")
	}

	// Token type
	if *tokenType == "" && interactive {
		*tokenType = prompt(reader, "Token type [teacher/service] (default teacher): ")
	}
	if *tokenType == "" {
		*tokenType = string(service.TokenTypeTeacher)
	}
	typ := service.TokenType(*tokenType)
	if typ != service.TokenTypeTeacher && typ != service.TokenTypeService {
		fail("token type must be teacher or service")
	}

	// User ID
	if *userID == "" && interactive {
		*userID = prompt(reader, "User ID (empty for a new one): ")
	}
	id := uuid.New()
	if *userID != "" {
		parsed, err := uuid.Parse(*userID)
		if err != nil {
			fail("user ID must be a UUID")
		}
		id = parsed
	}

	// Permissions
	if *perms == "" && interactive && typ == service.TokenTypeTeacher {
		*perms = prompt(reader, "Permissions (default *): ")
	}
	permissions := splitPerms(*perms)
	if len(permissions) == 0 && typ == service.TokenTypeTeacher {
		permissions = []string{service.PermAll}
	}

	// Secret
	secret := cfg.JWTSecret
	if os.Getenv("JWT_SECRET") == "" && interactive {
		fmt.Fprint(os.Stderr, "JWT secret (empty for the development default): ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fail("could not read secret")
		}
		if s := strings.TrimSpace(string(raw)); s != "" {
			secret = s
		}
	}

	// ─── Issue ─────────────────────────────────────────────────────────
	token, err := service.NewAuthService(secret).IssueToken(id, typ, permissions, *ttl)
	if err != nil {
		fail(err.Error())
	}

	if interactive {
		fmt.Fprintf(os.Stderr, "\nIssued %s token for %s, valid for %s\n", typ, id, *ttl)
	}
	fmt.Println(token)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}

func splitPerms(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "Error: "+msg)
	os.Exit(1)
}
