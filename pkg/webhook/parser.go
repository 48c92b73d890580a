package webhook

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"
)

// Payload is the decoded webhook body.
type Payload struct {
	Event            string
	TS               int64
	ApplicationToken string
	Domain           string
	EntityID         int64
	EntityTypeID     int
	Tree             map[string]any
}

// ParseForm nests bracketed form keys (data[FIELDS][ID]=42) into a tree and
// extracts the fields the pipeline needs. A non-map value standing where a
// deeper key needs a map is overwritten with a map and logged.
func ParseForm(ctx context.Context, logger ectologger.Logger, form url.Values) (*Payload, error) {
	tree := make(map[string]any)
	for rawKey, values := range form {
		if len(values) == 0 {
			continue
		}
		path, err := splitBracketKey(rawKey)
		if err != nil {
			return nil, err
		}
		setPath(ctx, logger, tree, path, values[0])
	}

	payload := &Payload{Tree: tree}

	payload.Event, _ = stringAt(tree, "event")
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field")
	}

	tsRaw, _ := stringAt(tree, "ts")
	if tsRaw == "" {
		return nil, fmt.Errorf("missing ts field")
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil || ts < 0 {
		return nil, fmt.Errorf("invalid ts %q", tsRaw)
	}
	payload.TS = ts

	payload.ApplicationToken, _ = stringAt(tree, "auth", "application_token")
	payload.Domain, _ = stringAt(tree, "auth", "domain")

	idRaw, _ := stringAt(tree, "data", "FIELDS", "ID")
	if idRaw != "" {
		id, err := strconv.ParseInt(idRaw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid entity id %q", idRaw)
		}
		payload.EntityID = id
	}

	typeRaw, _ := stringAt(tree, "data", "FIELDS", "ENTITY_TYPE_ID")
	if typeRaw != "" {
		typeID, err := strconv.Atoi(typeRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid entity type id %q", typeRaw)
		}
		payload.EntityTypeID = typeID
	}

	return payload, nil
}

// splitBracketKey turns "data[FIELDS][ID]" into ["data", "FIELDS", "ID"].
func splitBracketKey(key string) ([]string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return []string{key}, nil
	}
	if open == 0 {
		return nil, fmt.Errorf("malformed form key %q", key)
	}

	path := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return nil, fmt.Errorf("malformed form key %q", key)
		}
		closing := strings.IndexByte(rest, ']')
		if closing < 0 {
			return nil, fmt.Errorf("malformed form key %q", key)
		}
		path = append(path, rest[1:closing])
		rest = rest[closing+1:]
	}
	return path, nil
}

func setPath(ctx context.Context, logger ectologger.Logger, tree map[string]any, path []string, value string) {
	node := tree
	for _, segment := range path[:len(path)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			if _, present := node[segment]; present {
				logger.WithContext(ctx).Warnf("Webhook form key conflict at %q, overwriting scalar", segment)
			}
			child = make(map[string]any)
			node[segment] = child
		}
		node = child
	}
	node[path[len(path)-1]] = value
}

func stringAt(tree map[string]any, path ...string) (string, bool) {
	node := any(tree)
	for _, segment := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return "", false
		}
		node, ok = m[segment]
		if !ok {
			return "", false
		}
	}
	s, ok := node.(string)
	return s, ok
}
