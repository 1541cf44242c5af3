package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	golog "github.com/textileio/go-log/v2"
)

func TestConfigureCLI(t *testing.T) {
	t.Setenv("TESTD_HTTP_ADDR", ":9999")
	t.Setenv("TESTD_POLL_INTERVAL", "1m")

	v := viper.New()
	fs := pflag.NewFlagSet("testd", pflag.ContinueOnError)
	ConfigureCLI(v, "TESTD", []Flag{
		{Name: "http-addr", DefValue: ":8080", Description: "HTTP listen address"},
		{Name: "poll-interval", DefValue: 10 * time.Second, Description: "Poll interval"},
		{Name: "max-cap", DefValue: 100, Description: "Max cap"},
		{Name: "log-debug", DefValue: false, Description: "Debug"},
		{Name: "peers", DefValue: []string{}, Description: "Peers"},
	}, fs)
	require.NoError(t, fs.Parse([]string{"--max-cap=7", "--peers=a,b", "--peers=c"}))

	require.Equal(t, ":9999", v.GetString("http-addr"))
	require.Equal(t, time.Minute, v.GetDuration("poll-interval"))
	require.Equal(t, 7, v.GetInt("max-cap"))
	require.False(t, v.GetBool("log-debug"))
	require.Equal(t, []string{"a", "b", "c"}, ParseStringSlice(v, "peers"))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TESTD_HOME", "/tmp/house")
	v := viper.New()
	v.Set("repo", "${TESTD_HOME}/repo")
	ExpandEnvVars(v, v.AllSettings())
	require.Equal(t, "/tmp/house/repo", v.GetString("repo"))
}

func TestLoggerMiddlewareRecovers(t *testing.T) {
	t.Parallel()
	log := golog.Logger("common/test")
	h := LoggerMiddleware(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auctions", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "boom")
}
