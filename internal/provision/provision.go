// Package provision creates an object store account, user, access key and
// working bucket on the array and records the resulting credentials.
//
// Steps run strictly in order and are never retried. Account and user
// creation tolerate resources that already exist; every other management
// failure before the access key exists is fatal. Once a key has been
// created its secret is written to the output file immediately, so no later
// failure can lose it.
package provision

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fbtenant/internal/config"
	"fbtenant/internal/flashblade"
	"fbtenant/internal/output"
	"fbtenant/internal/storage"
)

// MaxAccessKeys is the number of live keys the array allows per user.
const MaxAccessKeys = 2

var (
	ErrKeyQuota         = errors.New("cannot create more access keys")
	ErrNoDataInterface  = errors.New("no network interface serves the data role")
	errNilManagementAPI = errors.New("management api client is not configured")
)

// ManagementAPI is the subset of the array management client the
// provisioner drives.
type ManagementAPI interface {
	Login(ctx context.Context, apiToken string) error
	Logout(ctx context.Context) error
	CreateObjectStoreAccount(ctx context.Context, name string) (flashblade.ObjectStoreAccount, error)
	CreateObjectStoreUser(ctx context.Context, name string) (flashblade.ObjectStoreUser, error)
	ListObjectStoreAccessKeys(ctx context.Context, filter string) ([]flashblade.ObjectStoreAccessKey, error)
	CreateObjectStoreAccessKey(ctx context.Context, user string) (flashblade.ObjectStoreAccessKey, error)
	ListNetworkInterfaces(ctx context.Context, filter string) ([]flashblade.NetworkInterface, error)
	CreateBucket(ctx context.Context, name string, account string) (flashblade.Bucket, error)
}

// BucketCreatorFactory builds a data-plane client from freshly created keys.
type BucketCreatorFactory func(cfg storage.S3Config) (storage.BucketCreator, error)

type Result struct {
	Account       string
	User          string
	AccessKeyID   string
	Bucket        string
	BucketCreated bool
	Endpoint      string
	OutputPath    string
}

type Provisioner struct {
	cfg        *config.Config
	apiToken   string
	api        ManagementAPI
	newBuckets BucketCreatorFactory
	write      func(path string, r output.Renderer) error
	log        *zap.Logger
}

func New(cfg *config.Config, apiToken string, api ManagementAPI, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{
		cfg:      cfg,
		apiToken: apiToken,
		api:      api,
		newBuckets: func(s3cfg storage.S3Config) (storage.BucketCreator, error) {
			return storage.NewS3Client(s3cfg)
		},
		write: output.Write,
		log:   log,
	}
}

// SetBucketCreatorFactory replaces how the data-plane client is built.
func (p *Provisioner) SetBucketCreatorFactory(fn BucketCreatorFactory) {
	if fn != nil {
		p.newBuckets = fn
	}
}

// Run executes the provisioning sequence once. A non-nil error is fatal;
// recoverable failures are logged and reflected in Result.
func (p *Provisioner) Run(ctx context.Context) (Result, error) {
	if p.api == nil {
		return Result{}, errNilManagementAPI
	}

	accountUser := p.cfg.AccountUser()
	result := Result{
		Account:    p.cfg.Account,
		User:       accountUser,
		Bucket:     p.cfg.BucketName(),
		OutputPath: p.cfg.OutputPath(),
	}

	if err := p.api.Login(ctx, p.apiToken); err != nil {
		return result, fmt.Errorf("login: %w", err)
	}
	defer func() {
		if err := p.api.Logout(context.WithoutCancel(ctx)); err != nil {
			p.log.Warn("logout failed", zap.Error(err))
		}
	}()

	if err := p.ensureAccount(ctx); err != nil {
		return result, err
	}
	if err := p.ensureUser(ctx, accountUser); err != nil {
		return result, err
	}
	if err := p.checkKeyQuota(ctx, accountUser); err != nil {
		return result, err
	}

	key, err := p.api.CreateObjectStoreAccessKey(ctx, accountUser)
	if err != nil {
		return result, fmt.Errorf("create access key: %w", err)
	}
	result.AccessKeyID = key.Name
	p.log.Info("created access key", zap.String("user", accountUser), zap.String("access_key_id", key.Name))

	if err := p.persist(result, key.SecretAccessKey); err != nil {
		return result, err
	}

	if p.cfg.Format == config.FormatSpark {
		endpoint, err := p.resolveDataEndpoint(ctx)
		if err != nil {
			return result, err
		}
		result.Endpoint = endpoint
		result.BucketCreated = p.createDataPlaneBucket(ctx, result.Bucket, endpoint, key)
	} else {
		result.BucketCreated = p.createManagedBucket(ctx, result.Bucket)
	}

	if err := p.persist(result, key.SecretAccessKey); err != nil {
		return result, err
	}
	p.log.Info("wrote output", zap.String("path", result.OutputPath), zap.String("format", p.cfg.Format))
	return result, nil
}

func (p *Provisioner) ensureAccount(ctx context.Context) error {
	log := p.log.With(zap.String("account", p.cfg.Account))
	if _, err := p.api.CreateObjectStoreAccount(ctx, p.cfg.Account); err != nil {
		if errors.Is(err, flashblade.ErrAlreadyExists) {
			log.Info("service account already exists")
			return nil
		}
		return fmt.Errorf("create service account: %w", err)
	}
	log.Info("created service account")
	return nil
}

func (p *Provisioner) ensureUser(ctx context.Context, accountUser string) error {
	log := p.log.With(zap.String("user", accountUser))
	if _, err := p.api.CreateObjectStoreUser(ctx, accountUser); err != nil {
		if errors.Is(err, flashblade.ErrAlreadyExists) {
			log.Info("user already exists")
			return nil
		}
		return fmt.Errorf("create user: %w", err)
	}
	log.Info("created user")
	return nil
}

func (p *Provisioner) checkKeyQuota(ctx context.Context, accountUser string) error {
	keys, err := p.api.ListObjectStoreAccessKeys(ctx, flashblade.UserFilter(accountUser))
	if err != nil {
		return fmt.Errorf("list access keys: %w", err)
	}
	if len(keys) >= MaxAccessKeys {
		return fmt.Errorf("user %s: %w (%d of %d in use)", accountUser, ErrKeyQuota, len(keys), MaxAccessKeys)
	}
	return nil
}

func (p *Provisioner) resolveDataEndpoint(ctx context.Context) (string, error) {
	ifaces, err := p.api.ListNetworkInterfaces(ctx, flashblade.ServiceFilter(p.cfg.Management.DataService))
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Address != "" {
			p.log.Info("resolved data endpoint", zap.String("interface", iface.Name), zap.String("endpoint", iface.Address))
			return iface.Address, nil
		}
	}
	return "", fmt.Errorf("services=%q: %w", p.cfg.Management.DataService, ErrNoDataInterface)
}

func (p *Provisioner) createDataPlaneBucket(ctx context.Context, bucket, endpoint string, key flashblade.ObjectStoreAccessKey) bool {
	endpointURL := p.cfg.S3.Scheme + "://" + endpoint
	log := p.log.With(zap.String("bucket", bucket), zap.String("endpoint", endpointURL))

	client, err := p.newBuckets(storage.S3Config{
		Endpoint:  endpointURL,
		Region:    p.cfg.S3.Region,
		AccessKey: key.Name,
		SecretKey: key.SecretAccessKey,
		PathStyle: p.cfg.S3.PathStyle,
	})
	if err != nil {
		log.Error("failed creating bucket", zap.Error(err))
		return false
	}
	if err := client.CreateBucket(ctx, bucket); err != nil {
		log.Error("failed creating bucket", zap.Error(err))
		return false
	}
	log.Info("created bucket")
	return true
}

func (p *Provisioner) createManagedBucket(ctx context.Context, bucket string) bool {
	log := p.log.With(zap.String("bucket", bucket), zap.String("account", p.cfg.Account))
	if _, err := p.api.CreateBucket(ctx, bucket, p.cfg.Account); err != nil {
		if errors.Is(err, flashblade.ErrAlreadyExists) {
			log.Info("bucket already exists")
			return false
		}
		log.Error("failed creating bucket", zap.Error(err))
		return false
	}
	log.Info("created bucket")
	return true
}

func (p *Provisioner) persist(result Result, secret string) error {
	var r output.Renderer
	switch p.cfg.Format {
	case config.FormatCredentials:
		r = output.Credentials{AccessKey: result.AccessKeyID, SecretKey: secret}
	default:
		r = output.SparkDefaults{
			Endpoint:  result.Endpoint,
			AccessKey: result.AccessKeyID,
			SecretKey: secret,
			Bucket:    result.Bucket,
		}
	}
	if err := p.write(result.OutputPath, r); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
