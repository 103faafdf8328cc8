package registry

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/glimte/schemagov/storage"
)

// BackupDir is the default parent of timestamped backups within the store
const BackupDir = "backups"

// BackupRegistry copies every schema file and the index into dest.
// An empty dest selects backups/registry_<YYYYmmdd_HHMMSS>. The directory
// used is returned.
func (r *SchemaRegistry) BackupRegistry(ctx context.Context, dest string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return "", &Error{Op: "backup", Err: ErrNotInitialized}
	}
	if dest == "" {
		dest = path.Join(BackupDir, "registry_"+r.now().UTC().Format("20060102_150405"))
	}

	versions := make([]string, 0, len(r.schemas))
	for v := range r.schemas {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	for _, v := range versions {
		name := SchemaFileName(v)
		if err := storage.Copy(ctx, r.store, r.file(name), r.store, path.Join(dest, name)); err != nil {
			return "", &Error{Op: "backup", Version: v, Err: fmt.Errorf("copy schema: %w", err)}
		}
	}

	data, err := r.encodeIndexLocked()
	if err != nil {
		return "", &Error{Op: "backup", Err: err}
	}
	if err := r.store.Write(ctx, path.Join(dest, IndexFile), data); err != nil {
		return "", &Error{Op: "backup", Err: fmt.Errorf("write index: %w", err)}
	}

	r.logger.Info("schema registry backed up", "destination", dest, "versions", len(versions))
	return dest, nil
}
