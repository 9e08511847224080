// Package fileio implements nodes.FileSystem by URI scheme: s3:// via
// aws-sdk-go-v2, ftp:// via jlaffaye/ftp, everything else against the
// local filesystem.
package fileio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jlaffaye/ftp"
)

// FS dispatches Read/Write by the path's URI scheme.
type FS struct {
	S3     *s3.Client
	FTPDSN string // host:port for ftp:// paths, credentials supplied by the caller via env
	FTPUser, FTPPass string
}

func New(s3Client *s3.Client, ftpAddr, ftpUser, ftpPass string) *FS {
	return &FS{S3: s3Client, FTPDSN: ftpAddr, FTPUser: ftpUser, FTPPass: ftpPass}
}

func (f *FS) Read(ctx context.Context, path string) ([]byte, error) {
	switch {
	case strings.HasPrefix(path, "s3://"):
		return f.readS3(ctx, path)
	case strings.HasPrefix(path, "ftp://"):
		return f.readFTP(path)
	default:
		return os.ReadFile(path)
	}
}

func (f *FS) Write(ctx context.Context, path string, data []byte) error {
	switch {
	case strings.HasPrefix(path, "s3://"):
		return f.writeS3(ctx, path, data)
	case strings.HasPrefix(path, "ftp://"):
		return f.writeFTP(path, data)
	default:
		return os.WriteFile(path, data, 0o644)
	}
}

func splitS3(path string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(path, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("fileio: malformed s3 path %q", path)
	}
	return parts[0], parts[1], nil
}

func (f *FS) readS3(ctx context.Context, path string) ([]byte, error) {
	if f.S3 == nil {
		return nil, fmt.Errorf("fileio: no s3 client configured")
	}
	bucket, key, err := splitS3(path)
	if err != nil {
		return nil, err
	}
	out, err := f.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (f *FS) writeS3(ctx context.Context, path string, data []byte) error {
	if f.S3 == nil {
		return fmt.Errorf("fileio: no s3 client configured")
	}
	bucket, key, err := splitS3(path)
	if err != nil {
		return err
	}
	_, err = f.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket), Key: aws.String(key), Body: bytes.NewReader(data),
	})
	return err
}

func (f *FS) readFTP(path string) ([]byte, error) {
	conn, err := ftp.Dial(f.FTPDSN)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()
	if err := conn.Login(f.FTPUser, f.FTPPass); err != nil {
		return nil, err
	}
	remotePath := strings.TrimPrefix(path, "ftp://"+f.FTPDSN)
	resp, err := conn.Retr(remotePath)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

func (f *FS) writeFTP(path string, data []byte) error {
	conn, err := ftp.Dial(f.FTPDSN)
	if err != nil {
		return err
	}
	defer conn.Quit()
	if err := conn.Login(f.FTPUser, f.FTPPass); err != nil {
		return err
	}
	remotePath := strings.TrimPrefix(path, "ftp://"+f.FTPDSN)
	return conn.Stor(remotePath, bytes.NewReader(data))
}
