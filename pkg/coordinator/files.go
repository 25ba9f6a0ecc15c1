package coordinator

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// newestFileWithExt returns the data-directory file with extension ext
// whose hex-encoded name sequence number is largest, per the "lexically
// sorted last .cub, fixed hex width" convention. An empty dataDir (or one
// with no matching file) returns "", 0, nil.
func newestFileWithExt(dataDir string, ext string) (string, uint64, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", 0, err
	}
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return "", 0, err
	}

	var bestPath string
	var bestSeq uint64
	haveBest := false

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ext)
		seq, err := strconv.ParseUint(base, 16, 64)
		if err != nil {
			continue
		}
		if !haveBest || seq > bestSeq {
			bestSeq = seq
			bestPath = filepath.Join(dataDir, entry.Name())
			haveBest = true
		}
	}
	return bestPath, bestSeq, nil
}
