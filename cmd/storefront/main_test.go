package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printme/internal/app"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func stubEntrypoints(t *testing.T) (*app.Config, *any) {
	t.Helper()
	var gotCfg app.Config
	var gotHandler any

	oldServer, oldLambda := runServer, startLambda
	runServer = func(_ context.Context, cfg app.Config) error {
		gotCfg = cfg
		return nil
	}
	startLambda = func(handler any) { gotHandler = handler }
	t.Cleanup(func() {
		runServer, startLambda = oldServer, oldLambda
	})
	return &gotCfg, &gotHandler
}

func TestRun_ServerMode(t *testing.T) {
	gotCfg, gotHandler := stubEntrypoints(t)

	err := run(context.Background(), envOf(map[string]string{"HTTP_ADDR": ":18080"}))
	require.NoError(t, err)
	require.Equal(t, ":18080", gotCfg.HTTPAddr)
	require.Nil(t, *gotHandler)
}

func TestRun_LambdaMode(t *testing.T) {
	gotCfg, gotHandler := stubEntrypoints(t)

	err := run(context.Background(), envOf(map[string]string{
		"RUN_MODE":          "LAMBDA",
		"RENDER_OUTPUT_DIR": t.TempDir(),
	}))
	require.NoError(t, err)
	require.Empty(t, gotCfg.HTTPAddr, "server must not start in lambda mode")

	handler, ok := (*gotHandler).(app.APIGatewayHandler)
	require.True(t, ok, "unexpected handler type %T", *gotHandler)

	resp, err := handler(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/livez"})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestRun_Errors(t *testing.T) {
	stubEntrypoints(t)

	err := run(context.Background(), envOf(map[string]string{"OUTBOX_BATCH_SIZE": "many"}))
	require.ErrorContains(t, err, "read config")

	err = run(context.Background(), envOf(map[string]string{"LOG_LEVEL": "chatty"}))
	require.Error(t, err)

	runServer = func(context.Context, app.Config) error { return errors.New("bind failed") }
	err = run(context.Background(), envOf(nil))
	require.ErrorContains(t, err, "bind failed")
}
