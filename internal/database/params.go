package database

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aqasim81/archivedb/internal/dialect"
)

// Connection parameter keys accepted in a connection spec.
const (
	KeyClassName    = "className"
	KeyDatabaseName = "databaseName"
	KeyServerName   = "serverName"
	KeyPortNumber   = "portNumber"
	KeyUser         = "user"
	KeyPassword     = "password"
)

// Params describes how to reach one database. It is parsed from a
// semicolon-separated list of key=value pairs, for example:
//
//	className=postgres;databaseName=lockss;serverName=db;portNumber=5432;user=lockss;password=s3cret
//
// Keys that are not recognized are kept in Options and passed to the driver.
type Params struct {
	ClassName    string
	DatabaseName string
	ServerName   string
	PortNumber   int
	User         string
	Password     string
	Options      map[string]string
}

// ParseParams parses a connection spec and validates that the parameters
// required by its engine are present.
func ParseParams(spec string) (Params, error) {
	var p Params

	for _, pair := range strings.Split(spec, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Params{}, fmt.Errorf("%w: %q is not a key=value pair", ErrInvalidParams, pair)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := p.set(key, value); err != nil {
			return Params{}, err
		}
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}

	return p, nil
}

func (p *Params) set(key, value string) error {
	switch strings.ToLower(key) {
	case strings.ToLower(KeyClassName):
		p.ClassName = value
	case strings.ToLower(KeyDatabaseName):
		p.DatabaseName = value
	case strings.ToLower(KeyServerName):
		p.ServerName = value
	case strings.ToLower(KeyPortNumber):
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%w: invalid %s %q", ErrInvalidParams, KeyPortNumber, value)
		}

		p.PortNumber = port
	case strings.ToLower(KeyUser):
		p.User = value
	case strings.ToLower(KeyPassword):
		p.Password = value
	default:
		if p.Options == nil {
			p.Options = make(map[string]string)
		}

		p.Options[key] = value
	}

	return nil
}

// Engine classifies the parameters' className.
func (p Params) Engine() dialect.Engine {
	return dialect.Classify(p.ClassName)
}

// Validate reports the first missing required parameter. The embedded
// engine only needs a class and a database file; server engines also need
// a server, a port and a user.
func (p Params) Validate() error {
	if p.ClassName == "" {
		return fmt.Errorf("%w: %s", ErrMissingParameter, KeyClassName)
	}

	if p.DatabaseName == "" {
		return fmt.Errorf("%w: %s", ErrMissingParameter, KeyDatabaseName)
	}

	if p.Engine() == dialect.SQLite {
		return nil
	}

	switch {
	case p.ServerName == "":
		return fmt.Errorf("%w: %s", ErrMissingParameter, KeyServerName)
	case p.PortNumber == 0:
		return fmt.Errorf("%w: %s", ErrMissingParameter, KeyPortNumber)
	case p.User == "":
		return fmt.Errorf("%w: %s", ErrMissingParameter, KeyUser)
	}

	return nil
}

// String renders the parameters back into a connection spec with the
// password masked.
func (p Params) String() string {
	parts := []string{KeyClassName + "=" + p.ClassName, KeyDatabaseName + "=" + p.DatabaseName}

	if p.ServerName != "" {
		parts = append(parts, KeyServerName+"="+p.ServerName)
	}

	if p.PortNumber != 0 {
		parts = append(parts, KeyPortNumber+"="+strconv.Itoa(p.PortNumber))
	}

	if p.User != "" {
		parts = append(parts, KeyUser+"="+p.User)
	}

	if p.Password != "" {
		parts = append(parts, KeyPassword+"=***")
	}

	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		parts = append(parts, k+"="+p.Options[k])
	}

	return strings.Join(parts, ";")
}
