package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Renderer produces the full contents of an output file.
type Renderer interface {
	Render() []byte
}

// SparkDefaults is a spark-defaults.conf pointing s3a at the provisioned
// bucket.
type SparkDefaults struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Fixed s3a and input format tuning appended to every spark config.
var sparkTuning = [][2]string{
	{"spark.hadoop.fs.s3a.fast.upload", "true"},
	{"spark.hadoop.fs.s3a.connection.ssl.enabled", "false"},
	{"spark.hadoop.mapreduce.fileoutputcommitter.algorithm.version", "2"},
	{"spark.hadoop.mapreduce.input.fileinputformat.split.minsize", "541073408"},
}

func (s SparkDefaults) Render() []byte {
	var buf bytes.Buffer
	writePair := func(key, value string) {
		fmt.Fprintf(&buf, "%s %s\n", key, value)
	}

	writePair("spark.hadoop.fs.s3a.endpoint", s.Endpoint)
	writePair("spark.hadoop.fs.s3a.access.key", s.AccessKey)
	writePair("spark.hadoop.fs.s3a.secret.key", s.SecretKey)
	writePair("spark.hadoop.fs.defaultfs", fmt.Sprintf("s3a://%s/", s.Bucket))
	for _, kv := range sparkTuning {
		writePair(kv[0], kv[1])
	}
	return buf.Bytes()
}

// Credentials is an env-style credentials file.
type Credentials struct {
	AccessKey string
	SecretKey string
}

func (c Credentials) Render() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "AWS_ACCESS_KEY_ID=%s\n", c.AccessKey)
	fmt.Fprintf(&buf, "AWS_SECRET_ACCESS_KEY=%s\n", c.SecretKey)
	return buf.Bytes()
}

// Write replaces path with r's contents. Prior contents are never merged.
func Write(path string, r Renderer) error {
	if path == "" {
		return fmt.Errorf("output path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(r.Render()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("persist %s: %w", path, err)
	}
	return nil
}
