// Utility for storing Polestar ID passwords in the system keyring

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/polestar-community/polestar-go/pkg/cli"
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [-username email] [-delete] [-verify] [-stdin]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Prompts for the Polestar ID password of username and saves it in the system")
	fmt.Fprintf(w, "keyring. The username defaults to $%s.\n", cli.EnvPolestarUsername)
	fmt.Fprintln(w, "")
	flag.PrintDefaults()
}

func main() {
	returnCode := 1
	defer func() {
		os.Exit(returnCode)
	}()

	config, err := cli.NewConfig(cli.FlagCredentials)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}

	var (
		remove    bool
		verify    bool
		fromStdin bool
	)
	flag.BoolVar(&remove, "delete", false, "Remove the stored password instead of saving one")
	flag.BoolVar(&verify, "verify", false, "Sign in with the password before saving it")
	flag.BoolVar(&fromStdin, "stdin", false, "Read the password from stdin instead of prompting")
	flag.Usage = usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()

	if config.Username == "" {
		fmt.Fprintf(os.Stderr, "Must provide a username using -username or $%s\n", cli.EnvPolestarUsername)
		return
	}
	if flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Too many command-line arguments")
		return
	}

	if remove {
		if err := config.DeletePassword(); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing password from keyring: %s\n", err)
			return
		}
		returnCode = 0
		return
	}

	var password string
	if fromStdin {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "Error reading password from stdin: %s\n", err)
			return
		}
		password = strings.TrimRight(line, "\r\n")
	} else {
		password, err = cli.PromptPassword("Polestar ID password for " + config.Username)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password: %s\n", err)
			return
		}
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "Password must not be empty")
		return
	}

	if verify {
		verifyConfig, _ := cli.NewConfig(cli.FlagCredentials)
		verifyConfig.Username = config.Username
		if err := verifyConfig.SetPassword(password); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		acct, err := verifyConfig.Account(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sign-in failed, password not saved: %s\n", err)
			return
		}
		fmt.Printf("Signed in; found %d vehicle(s)\n", len(acct.VINs()))
	}

	if err := config.SavePasswordToKeyring(password); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving password to keyring: %s\n", err)
		return
	}

	returnCode = 0
}
