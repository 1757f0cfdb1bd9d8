// ABOUTME: `relay serve` -- fronts one workspace/session's Coordinator with
// ABOUTME: the optional HTTP command surface (§6), reusing the exact same
// ABOUTME: buildRuntime assembly chat/exec use.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relaykit/relay/server"
)

func runServe(args []string) int {
	var cf commonFlags
	var addr string
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	bindCommonFlags(fs, &cf)
	fs.StringVar(&addr, "addr", "127.0.0.1:8787", "Listen address")
	fs.Usage = func() { printHelp(os.Stderr, version) }
	if err := fs.Parse(args); err != nil {
		return exitFromFlagErr(err)
	}

	dataDir, err := resolveDataDir(cf.dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	rt, err := buildRuntime(dataDir, cf.workspace, cf.agent, cf.sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	srv := server.New(server.Config{Addr: addr, WorkspaceRoot: cf.workspace}, server.Deps{
		Coord:         rt.coord,
		Sessions:      rt.sessions,
		SessionsDir:   filepath.Join(dataDir, "sessions-state"),
		Registry:      rt.reg,
		Router:        rt.router,
		WorkspaceRoot: cf.workspace,
	})

	fmt.Printf("relay serve listening on %s (session %s)\n", srv.Addr(), rt.sess.ID)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
