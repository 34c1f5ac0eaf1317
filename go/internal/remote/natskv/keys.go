package natskv

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mcdev12/pointing/go/internal/remote"
)

// docToken terminates every key: the node at rooms/ABC is stored under
// "rooms.ABC._" so that the filter "rooms.ABC.>" covers the node and all of
// its descendants.
const docToken = "_"

var segmentPattern = regexp.MustCompile(`^[-=A-Za-z0-9]+$`)

func validateSegments(segments []string) error {
	if len(segments) == 0 {
		return fmt.Errorf("empty path")
	}
	for _, s := range segments {
		if !segmentPattern.MatchString(s) {
			return fmt.Errorf("invalid path segment %q", s)
		}
	}
	return nil
}

// docKey returns the KV key holding the fields of the node at path.
func docKey(path string) (string, error) {
	segments := remote.Split(path)
	if err := validateSegments(segments); err != nil {
		return "", err
	}
	return strings.Join(segments, ".") + "." + docToken, nil
}

// subtreeFilter returns the KV watch filter matching the node at path and
// every node beneath it.
func subtreeFilter(path string) (string, error) {
	segments := remote.Split(path)
	if err := validateSegments(segments); err != nil {
		return "", err
	}
	return strings.Join(segments, ".") + ".>", nil
}

// relativeSegments returns the position of key below base, or false when key
// is not a document key inside base.
func relativeSegments(base, key string) ([]string, bool) {
	baseTokens := remote.Split(base)
	keyTokens := strings.Split(key, ".")
	if len(keyTokens) < len(baseTokens)+1 || keyTokens[len(keyTokens)-1] != docToken {
		return nil, false
	}
	for i, t := range baseTokens {
		if keyTokens[i] != t {
			return nil, false
		}
	}
	return keyTokens[len(baseTokens) : len(keyTokens)-1], true
}

// buildSnapshot assembles the documents stored under base into one nested
// snapshot. It returns nil when there are no documents.
func buildSnapshot(base string, docs map[string]map[string]any) remote.Snapshot {
	if len(docs) == 0 {
		return nil
	}

	root := make(map[string]any)
	for key, fields := range docs {
		rel, ok := relativeSegments(base, key)
		if !ok {
			continue
		}
		node := root
		for _, seg := range rel {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		for k, v := range fields {
			existing, isMap := node[k].(map[string]any)
			incoming, incomingMap := v.(map[string]any)
			if isMap && incomingMap {
				for ik, iv := range incoming {
					existing[ik] = iv
				}
				continue
			}
			if isMap {
				// a child node already lives under this name
				continue
			}
			node[k] = v
		}
	}
	if len(root) == 0 {
		return nil
	}
	return remote.Snapshot(root)
}
