package cli

type runOptions struct {
	ConfigPath string
	Account    string
	User       string
	Format     string
	Outfile    string
	LogLevel   string
}
