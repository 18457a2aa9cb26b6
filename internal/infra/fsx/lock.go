package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockName 是输出目录下的运行锁文件名。
const LockName = ".bundlerank.lock"

// ErrLocked 表示另一个运行正持有同一输出目录的锁。
var ErrLocked = errors.New("输出目录正被另一个运行占用")

// Lock 是输出目录上的排他 advisory lock。
type Lock struct {
	f *flock.Flock
}

// TryLock 在 dir 下创建/获取运行锁；已被占用时立即返回 ErrLocked（不等待）。
func TryLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f := flock.New(filepath.Join(dir, LockName))
	ok, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取运行锁失败：%w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w：%s", ErrLocked, f.Path())
	}
	return &Lock{f: f}, nil
}

// Unlock 释放锁；锁文件保留在磁盘上（删除会与并发的 TryLock 产生竞态）。
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Unlock()
}
