package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/spf13/cobra"
)

// cryptOptions 为加解密调试命令的账号参数。
type cryptOptions struct {
	appID     string
	token     string
	aesKey    string
	nonce     string
	timestamp string
	signature string
}

func (o *cryptOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.appID, "app-id", "", "AppID / CorpID / SuiteID used as receive id")
	cmd.Flags().StringVar(&o.token, "token", "", "callback token")
	cmd.Flags().StringVar(&o.aesKey, "aes-key", "", "43-character EncodingAESKey")
	cmd.Flags().StringVar(&o.nonce, "nonce", "", "nonce (random when empty)")
	cmd.Flags().StringVar(&o.timestamp, "timestamp", "", "unix timestamp (now when empty)")
	_ = cmd.MarkFlagRequired("app-id")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("aes-key")
}

// readInput 读取位置参数，"-" 表示从标准输入读取。
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func newEncryptCmd() *cobra.Command {
	opts := &cryptOptions{}
	cmd := &cobra.Command{
		Use:   "encrypt [plaintext|-]",
		Short: "Encrypt a message into the <xml><Encrypt/>...</xml> envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := kernel.NewEncryptor(opts.appID, opts.token, opts.aesKey)
			if err != nil {
				return err
			}
			plain, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			nonce := opts.nonce
			if nonce == "" {
				nonce = kernel.NewNonce()
			}
			timestamp := opts.timestamp
			if timestamp == "" {
				timestamp = strconv.FormatInt(time.Now().Unix(), 10)
			}
			envelope, err := enc.EncryptXML(plain, nonce, timestamp)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), envelope)
			return err
		},
	}
	opts.bind(cmd)
	return cmd
}

func newDecryptCmd() *cobra.Command {
	opts := &cryptOptions{}
	cmd := &cobra.Command{
		Use:   "decrypt [ciphertext|envelope|-]",
		Short: "Verify and decrypt a ciphertext or an encrypted XML envelope",
		Long: "Decrypts either a bare ciphertext (with --signature, --nonce and --timestamp) " +
			"or a full envelope produced by the platform or the encrypt command.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := kernel.NewEncryptor(opts.appID, opts.token, opts.aesKey)
			if err != nil {
				return err
			}
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			ciphertext, signature, nonce, timestamp := input, opts.signature, opts.nonce, opts.timestamp
			if strings.HasPrefix(input, "<") {
				envelope, err := kernel.ParseXML([]byte(input))
				if err != nil {
					return err
				}
				ciphertext = envelope.Value("Encrypt")
				signature = firstNonEmpty(signature, envelope.Value("MsgSignature"))
				nonce = firstNonEmpty(nonce, envelope.Value("Nonce"))
				timestamp = firstNonEmpty(timestamp, envelope.Value("TimeStamp"))
			}

			plain, err := enc.Decrypt(ciphertext, signature, nonce, timestamp)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), plain)
			return err
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.signature, "signature", "", "msg_signature")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
