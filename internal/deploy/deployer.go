package deploy

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conarylabs/conary/internal/cas"
	"github.com/conarylabs/conary/internal/catalog"
	conaryerrors "github.com/conarylabs/conary/pkg/errors"
	"github.com/conarylabs/conary/pkg/log"
)

// Deployer materializes CAS objects into a real install root, and removes
// them again on uninstall. It never owns content — only a path that
// happens to point at CAS-owned bytes — so deployer failures never corrupt
// the store, only the live filesystem.
type Deployer struct {
	store       *cas.Store
	installRoot string
	logger      *log.Logger
}

// New constructs a Deployer rooted at installRoot.
func New(store *cas.Store, installRoot string, logger *log.Logger) *Deployer {
	if logger == nil {
		l, _ := log.New(log.DefaultConfig())
		logger = l
	}
	return &Deployer{store: store, installRoot: installRoot, logger: logger.WithComponent("deploy")}
}

// Op describes one file's desired end state, decided by the caller from
// catalog state before the deploy phase runs (the catalog row already
// exists or has been updated by the time Op is materialized).
type Op struct {
	Path             string
	Hash             string
	Mode             os.FileMode
	Type             catalog.FileType
	SymlinkTarget    string
	SameTroveUpgrade bool // destination already exists and is owned by the same trove
}

// Result collects non-fatal warnings accumulated while deploying or
// removing a batch of files. Removal failures are logged and counted but
// never abort the surrounding transaction.
type Result struct {
	Warnings []string
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Destination computes the install-root-relative destination for a
// trove-relative path, normalizing a leading slash.
func (d *Deployer) Destination(path string) (string, error) {
	rel := strings.TrimPrefix(path, "/")
	return SecureJoin(d.installRoot, rel)
}

// Deploy materializes every op into the install root in order. A
// FileConflict (an untracked file already occupying the destination) stops
// the batch and is returned as a hard error — cross-trove ownership
// conflicts are already rejected earlier, at catalog-insert time, by the
// files.path UNIQUE constraint.
func (d *Deployer) Deploy(ops []Op) (*Result, error) {
	result := &Result{}
	for _, op := range ops {
		if err := d.deployOne(op); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (d *Deployer) deployOne(op Op) error {
	dest, err := d.Destination(op.Path)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "deploy: invalid destination path").
			WithCause(err).WithDetail("path", op.Path)
	}

	if _, err := os.Lstat(dest); err == nil {
		if !op.SameTroveUpgrade && op.Type != catalog.FileTypeDirectory {
			return conaryerrors.New(conaryerrors.KindConflict, "deploy: file exists at destination but is not tracked for replacement").
				WithDetail("path", op.Path).WithDetail("kind", "untracked")
		}
	} else if !os.IsNotExist(err) {
		return conaryerrors.New(conaryerrors.KindIO, "deploy: stat destination").WithCause(err).WithDetail("path", op.Path)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "deploy: create parent directories").
			WithCause(err).WithDetail("path", op.Path)
	}

	switch op.Type {
	case catalog.FileTypeDirectory:
		if err := os.MkdirAll(dest, op.Mode); err != nil {
			return conaryerrors.New(conaryerrors.KindIO, "deploy: create directory").WithCause(err).WithDetail("path", op.Path)
		}
		return os.Chmod(dest, op.Mode)
	case catalog.FileTypeSymlink:
		return d.deploySymlink(dest, op)
	default:
		return d.deployRegular(dest, op)
	}
}

func (d *Deployer) deploySymlink(dest string, op Op) error {
	tmp := dest + tempSuffix()
	if err := os.Symlink(op.SymlinkTarget, tmp); err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "deploy: create symlink").WithCause(err).WithDetail("path", op.Path)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return conaryerrors.New(conaryerrors.KindIO, "deploy: rename symlink into place").WithCause(err).WithDetail("path", op.Path)
	}
	return nil
}

func (d *Deployer) deployRegular(dest string, op Op) error {
	objectPath, err := d.store.ObjectPath(op.Hash)
	if err != nil {
		return conaryerrors.New(conaryerrors.KindIO, "deploy: locate CAS object").WithCause(err).WithDetail("hash", op.Hash)
	}

	tmp := dest + tempSuffix()
	if linkErr := os.Link(objectPath, tmp); linkErr != nil {
		// Cross-device (EXDEV) or unsupported: fall back to a full copy.
		if copyErr := copyFile(objectPath, tmp); copyErr != nil {
			return conaryerrors.New(conaryerrors.KindIO, "deploy: materialize file").
				WithCause(copyErr).WithDetail("path", op.Path)
		}
	}
	if err := os.Chmod(tmp, op.Mode); err != nil {
		_ = os.Remove(tmp)
		return conaryerrors.New(conaryerrors.KindIO, "deploy: chmod staged file").WithCause(err).WithDetail("path", op.Path)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return conaryerrors.New(conaryerrors.KindIO, "deploy: rename staged file into place").WithCause(err).WithDetail("path", op.Path)
	}
	return nil
}

// Removal describes a path to remove during an uninstall.
type Removal struct {
	Path string
	Type catalog.FileType
}

// Remove deletes every path in removals, directories last and
// deepest-first so a parent directory is only removed once it is empty.
// Removal never aborts on individual failures; they are logged and counted
// as warnings in the returned Result.
func (d *Deployer) Remove(removals []Removal) *Result {
	result := &Result{}

	var files, dirs []Removal
	for _, r := range removals {
		if r.Type == catalog.FileTypeDirectory {
			dirs = append(dirs, r)
		} else {
			files = append(files, r)
		}
	}

	for _, r := range files {
		dest, err := d.Destination(r.Path)
		if err != nil {
			result.warn("invalid path " + r.Path + ": " + err.Error())
			continue
		}
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			result.warn("failed to remove " + r.Path + ": " + err.Error())
			d.logger.Warn("deploy: failed to remove file", map[string]interface{}{"path": r.Path, "error": err.Error()})
		}
	}

	sort.Slice(dirs, func(i, j int) bool {
		return depth(dirs[i].Path) > depth(dirs[j].Path)
	})
	for _, r := range dirs {
		dest, err := d.Destination(r.Path)
		if err != nil {
			result.warn("invalid path " + r.Path + ": " + err.Error())
			continue
		}
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			if isDirNotEmpty(err) {
				continue // shared directory still holds other troves' files
			}
			result.warn("failed to remove directory " + r.Path + ": " + err.Error())
			d.logger.Warn("deploy: failed to remove directory", map[string]interface{}{"path": r.Path, "error": err.Error()})
		}
	}

	return result
}

func depth(path string) int {
	return strings.Count(strings.Trim(path, "/"), "/")
}

func isDirNotEmpty(err error) bool {
	return strings.Contains(err.Error(), "directory not empty")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

var tempSuffixCounter int64

func tempSuffix() string {
	tempSuffixCounter++
	return ".conary-tmp-" + itoa(tempSuffixCounter)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
