package infra

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const defaultDotPath = "~/.ngguard"

// GetWorkDir resolves and creates a directory under dotPath, which may start
// with "~".
func GetWorkDir(dotPath string, path ...string) (string, error) {
	if dotPath == "" {
		dotPath = defaultDotPath
	}
	parts := append([]string{dotPath}, path...)
	workDir, err := homedir.Expand(filepath.Join(parts...))
	if err != nil {
		return "", errors.WithMessage(err, "cant expand work dir")
	}
	if err = os.MkdirAll(workDir, 0o750); err != nil {
		return "", errors.WithMessagef(err, "cant create work dir %s", workDir)
	}
	log.WithField("path", workDir).Debug("work dir ready")
	return workDir, nil
}
