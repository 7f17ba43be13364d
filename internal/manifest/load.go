package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Load error codes, shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E007" // connection struct malformed
)

// LoadError represents an error that occurred during manifest loading.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadDir loads every connection declared in the .cue files in dir. The
// files may omit the package clause; if they carry one it must match.
//
// Compile errors of individual connections are collected; the connections
// that compiled are still added to the returned registry.
func LoadDir(dir string) (*Registry, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err), Err: err}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err), Err: err}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	// Files are named explicitly so manifests without a package clause load
	// as one anonymous instance.
	instances := load.Instances(files, &load.Config{Dir: filepath.Dir(files[0])})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err), Err: inst.Err}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err), Err: err}}
	}
	return FromValue(value)
}

// LoadString compiles CUE source. Used by tests and embedded manifests.
func LoadString(src string) (*Registry, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err), Err: err}}
	}
	return FromValue(value)
}

// FromValue compiles every field of the top-level connection struct.
func FromValue(value cue.Value) (*Registry, []error) {
	reg := NewRegistry()
	var errs []error

	connections := value.LookupPath(cue.ParsePath("connection"))
	if !connections.Exists() {
		return reg, []error{&LoadError{Code: ErrCodeGeneric, Message: "no connections declared"}}
	}
	iter, err := connections.Fields()
	if err != nil {
		return reg, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating connections: %v", err), Err: err}}
	}
	for iter.Next() {
		m, err := CompileConnection(iter.Value())
		if err != nil {
			errs = append(errs, &LoadError{
				Code:    ErrCodeCompile,
				Message: fmt.Sprintf("connection.%s: %v", iter.Label(), err),
				Err:     err,
			})
			continue
		}
		m.ID = iter.Label()
		reg.Register(m)
	}
	return reg, errs
}

// FindCUEFiles returns the absolute paths of the .cue files directly in dir.
// Subdirectories are not searched.
func FindCUEFiles(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".cue" {
			files = append(files, filepath.Join(abs, entry.Name()))
		}
	}
	return files, nil
}
