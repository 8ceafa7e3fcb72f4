package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/MarkoPoloResearchLab/terminus/internal/adminrpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordedCall struct {
	method string
	params map[string]any
}

type stubCaller struct {
	calls    *[]recordedCall
	response map[string]any
	err      error
}

func (stub stubCaller) Call(_ context.Context, method string, params map[string]any) (map[string]any, error) {
	*stub.calls = append(*stub.calls, recordedCall{method: method, params: params})
	return stub.response, stub.err
}

func (stubCaller) Close() error { return nil }

func execute(test *testing.T, stub stubCaller, args ...string) (string, string, error) {
	test.Helper()
	var dialed string
	cmd := newRootCommand(func(address string) (caller, error) {
		dialed = address
		return stub, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), dialed, err
}

func TestCommandsBuildParams(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name       string
		args       []string
		wantMethod string
		wantParams map[string]any
	}{
		{name: "getinfo", args: []string{"getinfo"}, wantMethod: adminrpc.MethodGetInfo},
		{name: "getaccountinfo", args: []string{"getaccountinfo", "a-0", "b-0"}, wantMethod: adminrpc.MethodGetAccountInfo, wantParams: map[string]any{"names": []any{"a-0", "b-0"}}},
		{name: "receipts", args: []string{"getaccountreceipts", "a-0"}, wantMethod: adminrpc.MethodGetAccountReceipts, wantParams: map[string]any{"name": "a-0"}},
		{name: "create default cap", args: []string{"create", "1000", "shop"}, wantMethod: adminrpc.MethodCreate, wantParams: map[string]any{"msats": "1000", "name": "shop", "cap": "none"}},
		{name: "create with cap", args: []string{"create", "1000", "shop", "5000"}, wantMethod: adminrpc.MethodCreate, wantParams: map[string]any{"msats": "1000", "name": "shop", "cap": "5000"}},
		{name: "rm", args: []string{"rm", "a-0"}, wantMethod: adminrpc.MethodRemove, wantParams: map[string]any{"name": "a-0"}},
		{name: "connect", args: []string{"connect", "a-0", "beacon1xyz"}, wantMethod: adminrpc.MethodConnect, wantParams: map[string]any{"name": "a-0", "beacon": "beacon1xyz"}},
		{name: "listen", args: []string{"listen", "a-0"}, wantMethod: adminrpc.MethodListen, wantParams: map[string]any{"name": "a-0"}},
		{name: "listen with seed", args: []string{"listen", "a-0", "00ff"}, wantMethod: adminrpc.MethodListen, wantParams: map[string]any{"name": "a-0", "shared_seed": "00ff"}},
		{name: "clear", args: []string{"clear", "a-0"}, wantMethod: adminrpc.MethodClear, wantParams: map[string]any{"name": "a-0"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			var calls []recordedCall
			output, dialed, err := execute(test, stubCaller{calls: &calls, response: map[string]any{"success": true}}, testCase.args...)
			require.NoError(test, err)
			require.Equal(test, "127.0.0.1:11054", dialed)
			require.Len(test, calls, 1)
			require.Equal(test, testCase.wantMethod, calls[0].method)
			if testCase.wantParams != nil {
				require.Equal(test, testCase.wantParams, calls[0].params)
			}
			var printed map[string]any
			require.NoError(test, json.Unmarshal([]byte(output), &printed))
			require.Equal(test, true, printed["success"])
		})
	}
}

func TestCommandPrintsAdminErrors(test *testing.T) {
	test.Parallel()
	var calls []recordedCall
	stub := stubCaller{calls: &calls, err: status.Error(codes.NotFound, "*** unknown account: a-0")}
	output, _, err := execute(test, stub, "--rpc-addr", "127.0.0.1:1", "rm", "a-0")
	require.Error(test, err)
	var printed map[string]any
	require.NoError(test, json.Unmarshal([]byte(output), &printed))
	require.Equal(test, false, printed["success"])
	require.Equal(test, "*** unknown account: a-0", printed["error"])
}

func TestCommandRejectsWrongArity(test *testing.T) {
	test.Parallel()
	var calls []recordedCall
	_, _, err := execute(test, stubCaller{calls: &calls}, "connect", "a-0")
	require.Error(test, err)
	require.Empty(test, calls)
}
