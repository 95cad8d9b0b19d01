package main

import (
	"flag"
	"testing"

	"github.com/urfave/cli"
)

func contextWith(uid string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("uid", uid, "")
	return cli.NewContext(nil, set, nil)
}

func TestUID(t *testing.T) {
	u, err := uid(contextWith("0011223344556677"))
	if err != nil {
		t.Fatal(err)
	}
	if u != 0x0080E13344556677 {
		t.Errorf("uid %016x", u)
	}

	if _, err := uid(contextWith("not hex")); err == nil {
		t.Error("expected an error")
	}
}
