package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ID prefixes. An id is <prefix>_<10-digit unix seconds>_<8 hex chars>,
// so ids sort roughly by creation time within a prefix.
const (
	ActionIDPrefix = "act"
	EntityIDPrefix = "ent"
)

var idPattern = regexp.MustCompile(`^(act|ent)_[0-9]{10}_[0-9a-f]{8}$`)

// NewActionID mints an id for a mutation action.
func NewActionID() (string, error) {
	return newID(ActionIDPrefix)
}

// NewEntityID mints an id for an inbox entity.
func NewEntityID() (string, error) {
	return newID(EntityIDPrefix)
}

func newID(prefix string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("random id suffix: %w", err)
	}
	return fmt.Sprintf("%s_%010d_%s", prefix, time.Now().Unix(), hex.EncodeToString(suffix)), nil
}

// IsActionID reports whether id is a well-formed action id. Malformed ids
// are rejected at the socket boundary before they reach the engine.
func IsActionID(id string) bool {
	return idPattern.MatchString(id) && strings.HasPrefix(id, ActionIDPrefix+"_")
}

// IsEntityID reports whether id is a well-formed entity id.
func IsEntityID(id string) bool {
	return idPattern.MatchString(id) && strings.HasPrefix(id, EntityIDPrefix+"_")
}

// IDCreatedAt extracts the creation time embedded in a well-formed id.
func IDCreatedAt(id string) (time.Time, error) {
	if !idPattern.MatchString(id) {
		return time.Time{}, fmt.Errorf("malformed id: %q", id)
	}
	ts, err := strconv.ParseInt(id[len(id)-19:len(id)-9], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id timestamp %q: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
