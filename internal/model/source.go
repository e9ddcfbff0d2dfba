package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Source fetches raw artifact bytes from one location.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// Options carries the dependencies some sources need.
type Options struct {
	// Store backs registry:// locations.
	Store domain.BundleStore

	// S3 settings for s3:// locations. Client overrides the default client.
	S3Region   string
	S3Endpoint string
	S3Client   S3API
}

// Open resolves a location to a Source:
//
//	/path/model.json, file:///path/model.json  local file
//	s3://bucket/key                             S3 object
//	registry://<id>, registry://active          bundle registry row
func Open(ctx context.Context, location string, opts Options) (Source, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: no model bundle location configured", domain.ErrConfiguration)
	}

	scheme, rest, ok := strings.Cut(location, "://")
	if !ok {
		return &FileSource{Path: location}, nil
	}

	switch scheme {
	case "file":
		return &FileSource{Path: rest}, nil

	case "s3":
		u, err := url.Parse(location)
		if err != nil || u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
			return nil, fmt.Errorf("%w: invalid S3 location %q", domain.ErrConfiguration, location)
		}
		client := opts.S3Client
		if client == nil {
			client, err = newS3Client(ctx, opts.S3Region, opts.S3Endpoint)
			if err != nil {
				return nil, err
			}
		}
		return &S3Source{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/"), Client: client}, nil

	case "registry":
		if opts.Store == nil {
			return nil, fmt.Errorf("%w: registry location %q needs a bundle store", domain.ErrConfiguration, location)
		}
		if rest == "" {
			return nil, fmt.Errorf("%w: registry location needs a bundle id or \"active\"", domain.ErrConfiguration)
		}
		return &RegistrySource{Store: opts.Store, ID: rest}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported bundle location scheme %q", domain.ErrConfiguration, scheme)
	}
}

// Load fetches and parses a bundle. Every failure wraps domain.ErrConfiguration.
func Load(ctx context.Context, src Source) (*Bundle, error) {
	data, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch bundle from %s: %v", domain.ErrConfiguration, src, err)
	}

	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", src, err)
	}

	slog.Info("model bundle loaded",
		"source", src.String(),
		"id", b.ID(),
		"version", b.Version(),
		"features", len(b.features),
		"scaled", len(b.scale),
	)
	return b, nil
}

// LoadLocation opens and loads a bundle in one step.
func LoadLocation(ctx context.Context, location string, opts Options) (*Bundle, error) {
	src, err := Open(ctx, location, opts)
	if err != nil {
		return nil, err
	}
	return Load(ctx, src)
}

// FileSource reads an artifact from the local filesystem.
type FileSource struct {
	Path string
}

// Fetch reads the file.
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s *FileSource) String() string { return s.Path }

// S3API is the subset of the S3 client used to fetch artifacts.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads an artifact from an S3 object.
type S3Source struct {
	Bucket string
	Key    string
	Client S3API
}

// Fetch downloads the object body.
func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Source) String() string { return "s3://" + s.Bucket + "/" + s.Key }

func newS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %v", domain.ErrConfiguration, err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// RegistrySource reads an artifact from the bundle registry.
// ID "active" selects the active bundle.
type RegistrySource struct {
	Store domain.BundleStore
	ID    string
}

// Fetch loads the stored artifact.
func (s *RegistrySource) Fetch(ctx context.Context) ([]byte, error) {
	var (
		rec *domain.BundleRecord
		err error
	)
	if s.ID == "active" {
		rec, err = s.Store.GetActiveBundle(ctx)
	} else {
		rec, err = s.Store.GetBundle(ctx, s.ID)
	}
	if err != nil {
		return nil, err
	}
	return rec.Artifact, nil
}

func (s *RegistrySource) String() string { return "registry://" + s.ID }
