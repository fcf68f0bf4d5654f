package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for use as an enc: config value",
		Long: `Encrypt a notification token or gateway auth token with the passphrase in
GENRELAY_CONFIG_KEY. The value is read from the argument or, when absent,
from the first line of stdin. Paste the printed enc: string into the config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("GENRELAY_CONFIG_KEY")
			return runEncrypt(cmd.OutOrStdout(), cmd.InOrStdin(), args, passphrase)
		},
	}
}

func runEncrypt(w io.Writer, stdin io.Reader, args []string, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: GENRELAY_CONFIG_KEY is not set", domain.ErrConfiguration)
	}

	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return fmt.Errorf("%w: nothing to encrypt", domain.ErrInvalidInput)
	}

	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "enc:"+enc)
	return nil
}
