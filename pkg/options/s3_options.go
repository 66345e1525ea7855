package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the image repository that s3:// image references are
// fetched from.
type S3Options struct {
	// Endpoint of the S3 service. Empty means only local image paths are accepted.
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	Region          string `json:"region" mapstructure:"region"`

	// CacheDir receives downloaded images. Defaults to the OS temp dir.
	CacheDir string `json:"cache-dir" mapstructure:"cache-dir"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL: true,
		Region: "us-east-1",
	}
}

// Enabled reports whether an image repository was configured.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *S3Options) Validate() []error {
	errors := []error{}

	if o.Enabled() && (o.AccessKeyID == "" || o.SecretAccessKey == "") {
		errors = append(errors, fmt.Errorf("--s3.access-key-id and --s3.secret-access-key are required with --s3.endpoint"))
	}

	return errors
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint for s3:// image references (e.g. minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.StringVar(&o.CacheDir, "s3.cache-dir", o.CacheDir, "Directory that downloaded images are staged in")
}
