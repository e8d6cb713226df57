//go:build !unix

package records

// Without flock the in-process mutex is the only serialization.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
