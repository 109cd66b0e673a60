package hdf5

import (
	"fmt"
	"strings"
)

// ParseAttrPath parses an attribute path into object path and attribute name.
// Path format: /group/subgroup/object@attribute_name
//
// Examples:
//   - "/@root_attr" -> objectPath="/", attrName="root_attr"
//   - "/fields@name" -> objectPath="/fields", attrName="name"
//   - "/tiles/(0, 256)@coords" -> objectPath="/tiles/(0, 256)", attrName="coords"
//
// Returns an error if the path is invalid or missing the @ separator.
func ParseAttrPath(path string) (objectPath, attrName string, err error) {
	if path == "" {
		return "", "", fmt.Errorf("%w: empty attribute path", ErrInvalidPath)
	}

	atIdx := strings.LastIndex(path, "@")
	if atIdx == -1 {
		return "", "", fmt.Errorf("%w: attribute path must contain '@' separator: %s", ErrInvalidPath, path)
	}

	objectPath = path[:atIdx]
	attrName = path[atIdx+1:]

	if attrName == "" {
		return "", "", fmt.Errorf("%w: attribute name cannot be empty: %s", ErrInvalidPath, path)
	}

	// "/@attr" names the root group
	if objectPath == "" {
		objectPath = "/"
	}
	return CleanPath(objectPath), attrName, nil
}

// JoinAttrPath creates an attribute path from object path and attribute name.
func JoinAttrPath(objectPath, attrName string) string {
	if objectPath == "/" {
		return "/@" + attrName
	}
	return objectPath + "@" + attrName
}

// SplitPath splits a path into its components.
// Leading and trailing slashes are handled, empty components are removed.
//
// Examples:
//   - "/" -> []string{}
//   - "/foo" -> []string{"foo"}
//   - "/foo//bar/" -> []string{"foo", "bar"}
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CleanPath normalizes a path, ensuring it starts with "/" and has no trailing slash.
func CleanPath(path string) string {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

// JoinPath joins a parent path and a member name.
func JoinPath(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

// splitNames flattens path segments, each of which may itself hold "/"
// separators, into member names.
func splitNames(path []string) ([]string, error) {
	var names []string
	for _, p := range path {
		for _, name := range SplitPath(p) {
			if err := CheckName(name); err != nil {
				return nil, err
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// CheckName reports whether name is usable as a single member name.
func CheckName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidPath)
	case name == "." || name == "..":
		return fmt.Errorf("%w: relative name %q", ErrInvalidPath, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: name %q contains '/'", ErrInvalidPath, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: name %q contains NUL", ErrInvalidPath, name)
	}
	return nil
}
