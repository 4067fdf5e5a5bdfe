// Package std предоставляет стандартные инструменты агента для работы
// с vault: директорией заметок пользователя.
//
// Все пути, которые присылает модель, интерпретируются относительно
// корня vault. Выход за пределы корня (через "..", абсолютный путь
// или symlink) отклоняется до любого обращения к файловой системе.
package std

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilkoid/vaultmind/pkg/config"
)

// ErrOutsideVault возвращается для путей за пределами корня vault.
var ErrOutsideVault = errors.New("path is outside the vault")

// Vault - корень, к которому привязаны файловые инструменты.
type Vault struct {
	root         string
	maxFileBytes int64
}

// NewVault создаёт Vault. Корень должен существовать и быть директорией.
func NewVault(cfg config.VaultConfig) (*Vault, error) {
	cfg = cfg.GetDefaults()

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("vault root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", root)
	}

	return &Vault{root: root, maxFileBytes: cfg.MaxFileBytes}, nil
}

// Root возвращает абсолютный путь корня.
func (v *Vault) Root() string {
	return v.root
}

// MaxFileBytes - лимит на чтение и запись одного файла.
func (v *Vault) MaxFileBytes() int64 {
	return v.maxFileBytes
}

// Resolve переводит путь модели в абсолютный путь внутри vault.
func (v *Vault) Resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return v.root, nil
	}

	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(v.root, p)
	}
	if !v.contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, p)
	}

	// Symlink внутри vault может указывать наружу, в том числе через
	// директорию выше несуществующих: out/sub/x.md при out -> /tmp
	// создаст sub/ уже снаружи. Проверяем ближайшего существующего предка.
	existing := v.existingAncestor(abs)
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		// Например, битый symlink: куда он ведёт, проверить нельзя
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if !v.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, p)
	}

	return abs, nil
}

// existingAncestor возвращает abs или его ближайшего существующего
// предка. abs должен лежать внутри корня.
func (v *Vault) existingAncestor(abs string) string {
	for p := abs; p != v.root; {
		if _, err := os.Lstat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return v.root
}

// Rel возвращает путь относительно корня в формате со слешами.
func (v *Vault) Rel(abs string) string {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return abs
	}
	if rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (v *Vault) contains(abs string) bool {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// decodeArgs раскладывает аргументы модели в структуру параметров.
func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// describe возвращает описание из конфига или дефолтное.
func describe(cfg config.ToolConfig, fallback string) string {
	if cfg.Description != "" {
		return cfg.Description
	}
	return fallback
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func isBinaryExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".zip", ".pdf", ".mp4", ".sqlite", ".db":
		return true
	}
	return false
}

// isHidden пропускает служебные директории вроде .git и .obsidian.
func isHidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}
