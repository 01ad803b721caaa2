package provision

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"fbtenant/internal/config"
	"fbtenant/internal/flashblade"
	"fbtenant/internal/output"
	"fbtenant/internal/storage"
)

type fakeManagementAPI struct {
	calls []string

	loginErr     error
	logoutErr    error
	accountErr   error
	userErr      error
	listKeys     []flashblade.ObjectStoreAccessKey
	listKeysErr  error
	key          flashblade.ObjectStoreAccessKey
	createKeyErr error
	ifaces       []flashblade.NetworkInterface
	ifacesErr    error
	bucketErr    error

	bucketAccount string
	keyFilter     string
	ifaceFilter   string
}

func (f *fakeManagementAPI) Login(context.Context, string) error {
	f.calls = append(f.calls, "login")
	return f.loginErr
}

func (f *fakeManagementAPI) Logout(context.Context) error {
	f.calls = append(f.calls, "logout")
	return f.logoutErr
}

func (f *fakeManagementAPI) CreateObjectStoreAccount(_ context.Context, name string) (flashblade.ObjectStoreAccount, error) {
	f.calls = append(f.calls, "account:"+name)
	return flashblade.ObjectStoreAccount{Name: name}, f.accountErr
}

func (f *fakeManagementAPI) CreateObjectStoreUser(_ context.Context, name string) (flashblade.ObjectStoreUser, error) {
	f.calls = append(f.calls, "user:"+name)
	return flashblade.ObjectStoreUser{Name: name}, f.userErr
}

func (f *fakeManagementAPI) ListObjectStoreAccessKeys(_ context.Context, filter string) ([]flashblade.ObjectStoreAccessKey, error) {
	f.calls = append(f.calls, "list-keys")
	f.keyFilter = filter
	return f.listKeys, f.listKeysErr
}

func (f *fakeManagementAPI) CreateObjectStoreAccessKey(_ context.Context, user string) (flashblade.ObjectStoreAccessKey, error) {
	f.calls = append(f.calls, "create-key:"+user)
	if f.createKeyErr != nil {
		return flashblade.ObjectStoreAccessKey{}, f.createKeyErr
	}
	return f.key, nil
}

func (f *fakeManagementAPI) ListNetworkInterfaces(_ context.Context, filter string) ([]flashblade.NetworkInterface, error) {
	f.calls = append(f.calls, "list-ifaces")
	f.ifaceFilter = filter
	return f.ifaces, f.ifacesErr
}

func (f *fakeManagementAPI) CreateBucket(_ context.Context, name string, account string) (flashblade.Bucket, error) {
	f.calls = append(f.calls, "bucket:"+name)
	f.bucketAccount = account
	return flashblade.Bucket{Name: name}, f.bucketErr
}

type fakeBucketCreator struct {
	created []string
	err     error
}

func (f *fakeBucketCreator) CreateBucket(_ context.Context, name string) error {
	f.created = append(f.created, name)
	return f.err
}

func newFakeAPI() *fakeManagementAPI {
	return &fakeManagementAPI{
		key:    flashblade.ObjectStoreAccessKey{Name: "PSFBIAZA", SecretAccessKey: "s3cr3t"},
		ifaces: []flashblade.NetworkInterface{{Name: "data1", Address: "10.21.200.10"}, {Name: "data2", Address: "10.21.200.11"}},
	}
}

func newTestProvisioner(t *testing.T, format string, api ManagementAPI, buckets *fakeBucketCreator) (*Provisioner, *storage.S3Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Format = format
	cfg.Outfile = filepath.Join(t.TempDir(), config.DefaultOutfile(format))

	p := New(cfg, "T-good", api, nil)
	var captured storage.S3Config
	p.SetBucketCreatorFactory(func(s3cfg storage.S3Config) (storage.BucketCreator, error) {
		captured = s3cfg
		return buckets, nil
	})
	return p, &captured
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRunSparkFreshArray(t *testing.T) {
	api := newFakeAPI()
	buckets := &fakeBucketCreator{}
	p, s3cfg := newTestProvisioner(t, config.FormatSpark, api, buckets)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantCalls := []string{
		"login",
		"account:datateam",
		"user:datateam/spark",
		"list-keys",
		"create-key:datateam/spark",
		"list-ifaces",
		"logout",
	}
	if !reflect.DeepEqual(api.calls, wantCalls) {
		t.Fatalf("call order mismatch:\ngot  %v\nwant %v", api.calls, wantCalls)
	}
	if api.keyFilter != "user.name='datateam/spark'" {
		t.Fatalf("key filter mismatch: got %q", api.keyFilter)
	}
	if api.ifaceFilter != "services='data'" {
		t.Fatalf("interface filter mismatch: got %q", api.ifaceFilter)
	}

	if !reflect.DeepEqual(buckets.created, []string{"spark-working"}) {
		t.Fatalf("unexpected buckets: %v", buckets.created)
	}
	if s3cfg.Endpoint != "http://10.21.200.10" || s3cfg.AccessKey != "PSFBIAZA" || s3cfg.SecretKey != "s3cr3t" {
		t.Fatalf("unexpected s3 config: %#v", *s3cfg)
	}

	if !result.BucketCreated || result.Endpoint != "10.21.200.10" || result.AccessKeyID != "PSFBIAZA" {
		t.Fatalf("unexpected result: %#v", result)
	}

	lines := readLines(t, result.OutputPath)
	if len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %d: %q", len(lines), lines)
	}
	want := []string{
		"spark.hadoop.fs.s3a.endpoint 10.21.200.10",
		"spark.hadoop.fs.s3a.access.key PSFBIAZA",
		"spark.hadoop.fs.s3a.secret.key s3cr3t",
		"spark.hadoop.fs.defaultfs s3a://spark-working/",
	}
	if !reflect.DeepEqual(lines[:4], want) {
		t.Fatalf("output mismatch:\ngot  %q\nwant %q", lines[:4], want)
	}
}

func TestRunCredentialsCreatesBucketThroughManagementAPI(t *testing.T) {
	api := newFakeAPI()
	buckets := &fakeBucketCreator{}
	p, _ := newTestProvisioner(t, config.FormatCredentials, api, buckets)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantCalls := []string{
		"login",
		"account:datateam",
		"user:datateam/spark",
		"list-keys",
		"create-key:datateam/spark",
		"bucket:spark-working",
		"logout",
	}
	if !reflect.DeepEqual(api.calls, wantCalls) {
		t.Fatalf("call order mismatch:\ngot  %v\nwant %v", api.calls, wantCalls)
	}
	if api.bucketAccount != "datateam" {
		t.Fatalf("bucket account mismatch: got %q", api.bucketAccount)
	}
	if len(buckets.created) != 0 {
		t.Fatalf("data plane should not be used: %v", buckets.created)
	}

	lines := readLines(t, result.OutputPath)
	want := []string{"AWS_ACCESS_KEY_ID=PSFBIAZA", "AWS_SECRET_ACCESS_KEY=s3cr3t"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("output mismatch: got %q want %q", lines, want)
	}
}

func TestRunToleratesExistingAccountAndUser(t *testing.T) {
	exists := &flashblade.APIError{StatusCode: http.StatusBadRequest, Messages: []string{"already exists"}}
	api := newFakeAPI()
	api.accountErr = exists
	api.userErr = exists
	api.listKeys = []flashblade.ObjectStoreAccessKey{{Name: "PSFBOLD"}}
	p, _ := newTestProvisioner(t, config.FormatSpark, api, &fakeBucketCreator{})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("expected rerun to succeed, got: %v", err)
	}
}

func TestRunFatalAccountAndUserErrors(t *testing.T) {
	denied := &flashblade.APIError{StatusCode: http.StatusForbidden, Messages: []string{"permission denied"}}

	tests := []struct {
		name   string
		mutate func(*fakeManagementAPI)
	}{
		{name: "account", mutate: func(f *fakeManagementAPI) { f.accountErr = denied }},
		{name: "user", mutate: func(f *fakeManagementAPI) { f.userErr = denied }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			tt.mutate(api)
			p, _ := newTestProvisioner(t, config.FormatSpark, api, &fakeBucketCreator{})

			result, err := p.Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), "permission denied") {
				t.Fatalf("expected fatal error, got: %v", err)
			}
			for _, call := range api.calls {
				if strings.HasPrefix(call, "create-key") {
					t.Fatal("access key must not be created after a fatal error")
				}
			}
			if api.calls[len(api.calls)-1] != "logout" {
				t.Fatalf("expected logout after failure, calls: %v", api.calls)
			}
			if _, err := os.Stat(result.OutputPath); !os.IsNotExist(err) {
				t.Fatalf("expected no output file, stat err: %v", err)
			}
		})
	}
}

func TestRunKeyQuotaExhausted(t *testing.T) {
	api := newFakeAPI()
	api.listKeys = []flashblade.ObjectStoreAccessKey{{Name: "PSFBA"}, {Name: "PSFBB"}}
	p, _ := newTestProvisioner(t, config.FormatSpark, api, &fakeBucketCreator{})

	result, err := p.Run(context.Background())
	if !errors.Is(err, ErrKeyQuota) {
		t.Fatalf("expected key quota error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "cannot create more access keys") {
		t.Fatalf("unexpected message: %v", err)
	}
	for _, call := range api.calls {
		if strings.HasPrefix(call, "create-key") {
			t.Fatal("key creation must not be attempted when quota is exhausted")
		}
	}
	if _, err := os.Stat(result.OutputPath); !os.IsNotExist(err) {
		t.Fatalf("expected no output file, stat err: %v", err)
	}
}

func TestRunFatalBeforeKeyCreation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeManagementAPI)
		want   string
	}{
		{name: "list keys", mutate: func(f *fakeManagementAPI) { f.listKeysErr = errors.New("timeout") }, want: "list access keys: timeout"},
		{name: "create key", mutate: func(f *fakeManagementAPI) { f.createKeyErr = errors.New("rejected") }, want: "create access key: rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			tt.mutate(api)
			p, _ := newTestProvisioner(t, config.FormatSpark, api, &fakeBucketCreator{})

			result, err := p.Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got: %v", tt.want, err)
			}
			if _, err := os.Stat(result.OutputPath); !os.IsNotExist(err) {
				t.Fatalf("expected no output file, stat err: %v", err)
			}
		})
	}
}

func TestRunKeepsSecretWhenEndpointResolutionFails(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeManagementAPI)
		wantErr error
	}{
		{name: "query fails", mutate: func(f *fakeManagementAPI) { f.ifacesErr = errors.New("boom") }},
		{name: "no match", mutate: func(f *fakeManagementAPI) { f.ifaces = nil }, wantErr: ErrNoDataInterface},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			tt.mutate(api)
			buckets := &fakeBucketCreator{}
			p, _ := newTestProvisioner(t, config.FormatSpark, api, buckets)

			result, err := p.Run(context.Background())
			if err == nil {
				t.Fatal("expected fatal error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got: %v", tt.wantErr, err)
			}
			if len(buckets.created) != 0 {
				t.Fatalf("bucket creation should not be attempted: %v", buckets.created)
			}

			lines := readLines(t, result.OutputPath)
			if len(lines) != 8 {
				t.Fatalf("expected every field to be written, got %d lines", len(lines))
			}
			if lines[1] != "spark.hadoop.fs.s3a.access.key PSFBIAZA" || lines[2] != "spark.hadoop.fs.s3a.secret.key s3cr3t" {
				t.Fatalf("expected secret on disk, got %q", lines[:3])
			}
		})
	}
}

func TestRunBucketFailureIsNotFatal(t *testing.T) {
	t.Run("data plane", func(t *testing.T) {
		api := newFakeAPI()
		buckets := &fakeBucketCreator{err: errors.New("connection refused")}
		p, _ := newTestProvisioner(t, config.FormatSpark, api, buckets)

		result, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("bucket failure should not be fatal: %v", err)
		}
		if result.BucketCreated {
			t.Fatal("expected BucketCreated=false")
		}
		lines := readLines(t, result.OutputPath)
		if len(lines) != 8 || lines[3] != "spark.hadoop.fs.defaultfs s3a://spark-working/" {
			t.Fatalf("unexpected output: %q", lines)
		}
	})

	t.Run("data plane client construction", func(t *testing.T) {
		api := newFakeAPI()
		p, _ := newTestProvisioner(t, config.FormatSpark, api, &fakeBucketCreator{})
		p.SetBucketCreatorFactory(func(storage.S3Config) (storage.BucketCreator, error) {
			return nil, errors.New("bad endpoint")
		})

		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("bucket failure should not be fatal: %v", err)
		}
	})

	t.Run("management api", func(t *testing.T) {
		api := newFakeAPI()
		api.bucketErr = &flashblade.APIError{StatusCode: http.StatusInternalServerError}
		p, _ := newTestProvisioner(t, config.FormatCredentials, api, &fakeBucketCreator{})

		result, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("bucket failure should not be fatal: %v", err)
		}
		lines := readLines(t, result.OutputPath)
		if len(lines) != 2 || lines[1] != "AWS_SECRET_ACCESS_KEY=s3cr3t" {
			t.Fatalf("unexpected output: %q", lines)
		}
	})
}

func TestRunLoginFailure(t *testing.T) {
	api := newFakeAPI()
	api.loginErr = flashblade.ErrAuthentication
	p, _ := newTestProvisioner(t, config.FormatSpark, api, &fakeBucketCreator{})

	_, err := p.Run(context.Background())
	if !errors.Is(err, flashblade.ErrAuthentication) {
		t.Fatalf("expected authentication error, got: %v", err)
	}
	if !reflect.DeepEqual(api.calls, []string{"login"}) {
		t.Fatalf("expected no calls after failed login, got: %v", api.calls)
	}
}

func TestRunLogoutFailureIsNotFatal(t *testing.T) {
	api := newFakeAPI()
	api.logoutErr = errors.New("session expired")
	p, _ := newTestProvisioner(t, config.FormatCredentials, api, &fakeBucketCreator{})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("logout failure should not be fatal: %v", err)
	}
}

func TestRunWriteFailureIsFatal(t *testing.T) {
	api := newFakeAPI()
	p, _ := newTestProvisioner(t, config.FormatCredentials, api, &fakeBucketCreator{})
	p.write = func(string, output.Renderer) error { return errors.New("disk full") }

	_, err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "write output: disk full") {
		t.Fatalf("expected write error, got: %v", err)
	}
}
