package ckpt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"
)

// S3Config holds the parameters for checkpoint uploads.
type S3Config struct {
	BucketURL    string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// S3Uploader copies checkpoint files to a bucket using the AWS CLI
// (`aws s3 cp`).
type S3Uploader struct {
	bucket    string
	keyPrefix string
	conf      S3Config
}

// NewS3Uploader builds an uploader for a bucket URL of the form
// s3://bucket/prefix (prefix optional). The bucket URL, the static
// credentials, and the aws binary are all checked here.
func NewS3Uploader(conf S3Config) (*S3Uploader, error) {
	bucket, prefix, err := parseBucketURL(conf.BucketURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(conf.AccessKey) == "" || strings.TrimSpace(conf.SecretKey) == "" {
		return nil, fmt.Errorf("s3: access and secret keys must both be set")
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return nil, fmt.Errorf("s3: aws binary not found in PATH")
	}
	if strings.TrimSpace(conf.Region) == "" {
		conf.Region = "us-east-1"
	}
	return &S3Uploader{bucket: bucket, keyPrefix: prefix, conf: conf}, nil
}

// UploadFile copies localPath into the bucket, keeping the file name as
// the object name under the key prefix.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	cmd := exec.CommandContext(ctx, "aws", u.cliArgs(localPath)...)
	cmd.Env = u.credentialEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("s3: aws s3 cp: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (u *S3Uploader) objectURL(localPath string) string {
	// path.Join drops an empty prefix, so the bare-bucket case needs no branch.
	key := path.Join(u.keyPrefix, path.Base(localPath))
	return "s3://" + u.bucket + "/" + key
}

func (u *S3Uploader) cliArgs(localPath string) []string {
	args := []string{"s3", "cp", localPath, u.objectURL(localPath), "--region", u.conf.Region, "--only-show-errors"}
	if ep := endpointURL(u.conf.Endpoint, u.conf.UseSSL); ep != "" {
		args = append(args, "--endpoint-url", ep)
	}
	return args
}

// Credentials travel via the environment, never argv.
func (u *S3Uploader) credentialEnv() []string {
	env := append(os.Environ(),
		"AWS_ACCESS_KEY_ID="+u.conf.AccessKey,
		"AWS_SECRET_ACCESS_KEY="+u.conf.SecretKey,
		"AWS_DEFAULT_REGION="+u.conf.Region,
	)
	if strings.TrimSpace(u.conf.SessionToken) != "" {
		env = append(env, "AWS_SESSION_TOKEN="+u.conf.SessionToken)
	}
	return env
}

// endpointURL turns a bare host:port into a URL. An endpoint that already
// carries a scheme passes through unchanged.
func endpointURL(endpoint string, useSSL bool) string {
	host := strings.TrimSpace(endpoint)
	switch {
	case host == "":
		return ""
	case strings.Contains(host, "://"):
		return host
	case useSSL:
		return "https://" + host
	default:
		return "http://" + host
	}
}

// parseBucketURL splits s3://bucket/prefix into bucket and key prefix.
func parseBucketURL(raw string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), "s3://")
	if !ok {
		return "", "", fmt.Errorf("s3: bucket URL must use the s3:// scheme")
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3: missing bucket name in URL")
	}
	return bucket, strings.Trim(prefix, "/"), nil
}
