package envconfig

import "fmt"

// FileError is returned when we can't lock or read the config file. Load never
// creates the file, so a missing file surfaces as os.ErrNotExist through Unwrap.
type FileError struct {
	Path     string
	Locking  bool
	InnerErr error
}

func (e *FileError) Error() string {
	if e.Locking {
		return fmt.Sprintf("failed to lock config file %s: %s", e.Path, e.InnerErr)
	}
	return fmt.Sprintf("failed to read config file %s: %s", e.Path, e.InnerErr)
}

func (e *FileError) Unwrap() error { return e.InnerErr }

// ValidationError names the setting, by its yaml key or env var, that stopped us from
// building a connection. Setting is empty when the file itself isn't valid yaml.
type ValidationError struct {
	Setting  string
	InnerErr error
}

func (e *ValidationError) Error() string {
	if e.Setting == "" {
		return fmt.Sprintf("malformed config: %s", e.InnerErr)
	}
	return fmt.Sprintf("bad %s setting: %s", e.Setting, e.InnerErr)
}

func (e *ValidationError) Unwrap() error { return e.InnerErr }

// KeyError is returned by Get for a key that no setting answers to
type KeyError struct{ Key string }

func (e *KeyError) Error() string { return fmt.Sprintf("no config setting named %q", e.Key) }
