package staticanalysis

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrValidation 文件无法读取
var ErrValidation = errors.New("file validation failed")

// MinArchiveSize 有效 APK 的最小字节数
const MinArchiveSize = 1024

// zipMagic ZIP 本地文件头签名
var zipMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// ValidateFile 校验文件并计算 SHA-256 / SHA-1
// 仅在 I/O 失败时返回错误，格式不符只会让 IsValidArchive 为 false
func ValidateFile(path string) (*FileMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrValidation, path, err)
	}

	header := make([]byte, len(zipMagic))
	n, err := file.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read header %s: %w", ErrValidation, path, err)
	}

	// 一次读取同时计算两个哈希
	sha256Hash := sha256.New()
	sha1Hash := sha1.New()
	if _, err := io.Copy(io.MultiWriter(sha256Hash, sha1Hash), file); err != nil {
		return nil, fmt.Errorf("%w: hash %s: %w", ErrValidation, path, err)
	}

	return &FileMetadata{
		SizeBytes:      stat.Size(),
		SHA256:         fmt.Sprintf("%x", sha256Hash.Sum(nil)),
		SHA1:           fmt.Sprintf("%x", sha1Hash.Sum(nil)),
		LastModified:   stat.ModTime(),
		IsValidArchive: stat.Size() >= MinArchiveSize && n == len(zipMagic) && bytes.Equal(header, zipMagic),
	}, nil
}
