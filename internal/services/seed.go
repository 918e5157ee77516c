package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/models"
	"inkwell-backend/internal/repository"
)

// SeedFile is the YAML accounts file read by `inkwellctl seed-users`:
//
//	users:
//	  - username: Nicole
//	    password: secret
//	    role: teacher
//	  - username: Wayne
//	    password: secret
//	    role: student
//	    no_ai: true
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

type SeedUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	NoAI     bool   `yaml:"no_ai"`
}

func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a seed document. Role defaults to student.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	seen := make(map[string]bool, len(seed.Users))
	for i := range seed.Users {
		u := &seed.Users[i]
		u.Username = strings.TrimSpace(u.Username)
		if u.Role == "" {
			u.Role = models.RoleStudent
		}
		switch {
		case u.Username == "":
			return nil, fmt.Errorf("users[%d]: username is required", i)
		case seen[u.Username]:
			return nil, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username)
		case u.Role != models.RoleTeacher && u.Role != models.RoleStudent:
			return nil, fmt.Errorf("users[%d]: role must be teacher or student, got %q", i, u.Role)
		case u.Password == "":
			return nil, fmt.Errorf("users[%d]: password is required", i)
		}
		seen[u.Username] = true
	}
	return &seed, nil
}

// SeedUsers creates or overwrites every account in seed, keeping existing IDs
// so that earlier interactions stay attached.
func SeedUsers(ctx context.Context, store repository.Store, seed *SeedFile, log *logger.Logger) (int, error) {
	if log == nil {
		log = logger.Nop()
	}
	n := 0
	for _, su := range seed.Users {
		hash, err := HashPassword(su.Password)
		if err != nil {
			return n, fmt.Errorf("user %s: %w", su.Username, err)
		}
		user := &models.User{
			Username:     su.Username,
			PasswordHash: hash,
			Role:         su.Role,
			NoAI:         su.NoAI,
		}
		if err := store.UpsertUser(ctx, user); err != nil {
			log.Error("✗ Failed to seed user", "username", su.Username, "error", err)
			return n, storeErr("seed user "+su.Username, err)
		}
		log.Info("✓ User created/updated", "username", su.Username, "role", su.Role, "no_ai", su.NoAI)
		n++
	}
	return n, nil
}
