package flashblade

type Reference struct {
	Name string `json:"name"`
}

type ObjectStoreAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ObjectStoreUser struct {
	ID      string     `json:"id,omitempty"`
	Name    string     `json:"name"`
	Account *Reference `json:"account,omitempty"`
}

type ObjectStoreAccessKey struct {
	Name            string     `json:"name"`
	SecretAccessKey string     `json:"secret_access_key,omitempty"`
	Created         int64      `json:"created,omitempty"`
	Enabled         bool       `json:"enabled,omitempty"`
	User            *Reference `json:"user,omitempty"`
}

type NetworkInterface struct {
	Name     string     `json:"name"`
	Address  string     `json:"address"`
	Services []string   `json:"services,omitempty"`
	Subnet   *Reference `json:"subnet,omitempty"`
}

type Bucket struct {
	ID      string     `json:"id,omitempty"`
	Name    string     `json:"name"`
	Account *Reference `json:"account,omitempty"`
	Created int64      `json:"created,omitempty"`
}

type CreateAccessKeyRequest struct {
	User Reference `json:"user"`
}

type CreateBucketRequest struct {
	Account Reference `json:"account"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type errorResponse struct {
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}
