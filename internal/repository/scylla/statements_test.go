package scylla

import (
	"strings"
	"testing"
)

// Statements are plain CQL bound per call; the placeholder counts here
// must match the values each repository method passes.
func TestStatementPlaceholderArity(t *testing.T) {
	stmts := buildStatements()

	cases := []struct {
		name string
		stmt string
		want int
	}{
		{"CreateUser", stmts.CreateUser, 10},
		{"CreatePhoneToUser", stmts.CreatePhoneToUser, 4},
		{"GetUserByPhone", stmts.GetUserByPhone, 1},
		{"GetUserByID", stmts.GetUserByID, 2},
		{"UpdateVerified", stmts.UpdateVerified, 4},
		{"UpdateRole", stmts.UpdateRole, 4},
		{"UpdateLastLogin", stmts.UpdateLastLogin, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if strings.TrimSpace(tc.stmt) == "" {
				t.Fatal("empty statement")
			}
			if got := strings.Count(tc.stmt, "?"); got != tc.want {
				t.Fatalf("placeholders = %d, want %d", got, tc.want)
			}
		})
	}
}
