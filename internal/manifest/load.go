package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/build"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Load reads a manifest from path, which may be a single .cue file or a
// directory of them. All files in a directory are unified into one
// instance, so a graph may be split across files.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest: %v", err)}
	}

	if info.IsDir() {
		cueFiles, err := FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(cueFiles) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
	}

	instances := loadInstances(path, info.IsDir())
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	ctx := cuecontext.New()
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, wrapCUEError(err)
	}

	graphVal := value.LookupPath(cue.ParsePath("graph"))
	if !graphVal.Exists() {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("no graph declared in %s", path)}
	}

	return Compile(graphVal)
}

func loadInstances(path string, isDir bool) []*build.Instance {
	if isDir {
		return load.Instances([]string{"."}, &load.Config{Dir: path})
	}
	dir := filepath.Dir(path)
	return load.Instances([]string{filepath.Base(path)}, &load.Config{Dir: dir})
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
