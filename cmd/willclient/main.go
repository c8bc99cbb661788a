package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/ruteri/will-escrow-backend/api/clients"
	"github.com/ruteri/will-escrow-backend/cmd/flags"
	"github.com/ruteri/will-escrow-backend/interfaces"
	"github.com/urfave/cli/v2"
)

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "will escrow service URL",
	EnvVars: []string{"WILL_ESCROW_SERVER"},
}

var keyFileFlag = &cli.StringFlag{
	Name:    "key-file",
	Value:   "wallet.key",
	Usage:   "file holding the base58 Ed25519 wallet key",
	EnvVars: []string{"WILL_ESCROW_KEY_FILE"},
}

var willIDFlag = &cli.StringFlag{
	Name:     "will-id",
	Required: true,
	Usage:    "will id",
}

func main() {
	app := &cli.App{
		Name:  "willclient",
		Usage: "Create, claim and revoke escrowed wills",
		Flags: []cli.Flag{
			serverFlag,
			keyFileFlag,
			flags.LogJsonFlag,
			flags.LogDebugFlag,
			flags.LogUidFlag,
			flags.LogServiceFlagFn("willclient"),
		},
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "generate a wallet key and print its identity",
				Action: keygen,
			},
			{
				Name:   "login",
				Usage:  "check that the wallet can log in",
				Action: login,
			},
			{
				Name:  "create",
				Usage: "split a secret read from stdin and escrow it for a beneficiary",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "beneficiary", Required: true, Usage: "beneficiary identity, base58"},
					&cli.StringFlag{Name: "name", Required: true, Usage: "will name, unique per owner"},
					&cli.StringFlag{Name: "description", Usage: "free-form description"},
					&cli.TimestampFlag{Name: "release-time", Layout: time.RFC3339, Required: true, Usage: "earliest claim time, RFC3339"},
				},
				Action: create,
			},
			{
				Name:   "claim",
				Usage:  "claim a will as its beneficiary and print the recovered secret",
				Flags:  []cli.Flag{willIDFlag, &cli.DurationFlag{Name: "retry-for", Value: 30 * time.Second, Usage: "how long to retry while the ledger is unavailable"}},
				Action: claim,
			},
			{
				Name:   "revoke",
				Usage:  "revoke an active will",
				Flags:  []cli.Flag{willIDFlag},
				Action: revoke,
			},
			{
				Name:   "status",
				Usage:  "show a will",
				Flags:  []cli.Flag{willIDFlag},
				Action: status,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func keygen(cCtx *cli.Context) error {
	path := cCtx.String(keyFileFlag.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(base58.Encode(priv)+"\n"), 0o600); err != nil {
		return err
	}

	fmt.Println(base58.Encode(pub))
	return nil
}

func loadKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := base58.Decode(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("could not decode key file: %w", err)
	}

	switch len(key) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	default:
		return nil, fmt.Errorf("key file holds %d bytes, want a %d-byte key or %d-byte seed", len(key), ed25519.PrivateKeySize, ed25519.SeedSize)
	}
}

func newClient(cCtx *cli.Context) (*clients.WillClient, error) {
	priv, err := loadKey(cCtx.String(keyFileFlag.Name))
	if err != nil {
		return nil, err
	}
	return clients.NewWillClient(cCtx.String(serverFlag.Name), priv, flags.SetupLogger(cCtx))
}

func login(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	if err := client.Login(cCtx.Context); err != nil {
		return err
	}
	fmt.Println("logged in as", client.Identity())
	return nil
}

func create(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}

	beneficiary, err := interfaces.ParseIdentity(cCtx.String("beneficiary"))
	if err != nil {
		return err
	}

	secret, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
	if err != nil {
		return err
	}
	secret = []byte(strings.TrimRight(string(secret), "\r\n"))
	if len(secret) == 0 {
		return errors.New("no secret on stdin")
	}

	will, err := client.CreateWill(cCtx.Context, secret, clients.WillSpec{
		Beneficiary: beneficiary,
		Name:        cCtx.String("name"),
		Description: cCtx.String("description"),
		ReleaseTime: *cCtx.Timestamp("release-time"),
	})
	if err != nil {
		return err
	}

	fmt.Println(will.ID)
	return nil
}

func claim(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	id, err := interfaces.ParseWillID(cCtx.String(willIDFlag.Name))
	if err != nil {
		return err
	}

	client.ClaimRetries = cCtx.Duration("retry-for")
	secret, err := client.ClaimWill(cCtx.Context, id)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(append(secret, '\n'))
	return err
}

func revoke(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	id, err := interfaces.ParseWillID(cCtx.String(willIDFlag.Name))
	if err != nil {
		return err
	}

	will, err := client.RevokeWill(cCtx.Context, id)
	if err != nil {
		return err
	}
	fmt.Println(will.ID, will.Status)
	return nil
}

func status(cCtx *cli.Context) error {
	client, err := newClient(cCtx)
	if err != nil {
		return err
	}
	id, err := interfaces.ParseWillID(cCtx.String(willIDFlag.Name))
	if err != nil {
		return err
	}

	will, err := client.GetWill(cCtx.Context, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s %q status=%s release=%s beneficiary=%s\n",
		will.ID, will.Name, will.Status, will.ReleaseTime.Format(time.RFC3339), will.Beneficiary)
	return nil
}
