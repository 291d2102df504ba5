package command

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"uplink/internal/decoder"
	"uplink/internal/parser"
	"uplink/internal/pkg"
	"uplink/internal/schema"
)

// options 是所有子命令共用的参数
type options struct {
	configDir  string
	schemaFile string
	layout     string
	encoding   string
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "uplink-cli",
		Short:         "Uplink CLI for decoding single payloads",
		Long:          `Uplink CLI decodes field payloads with the configured schema, without starting the gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configDir, "config", "c", "config", "配置目录, 未指定 --schema 时从中读取 fields")
	flags.StringVarP(&opts.schemaFile, "schema", "s", "", "独立的 schema yaml 文件")
	flags.StringVarP(&opts.layout, "layout", "l", "", "记录头布局: padded|compact, 默认取配置")
	flags.StringVarP(&opts.encoding, "encoding", "e", "", "负载编码: hex|base64|json, 默认取配置, 配置为空时为 hex")

	rootCmd.AddCommand(NewDecodeCommand(opts))
	rootCmd.AddCommand(NewSchemaCommand(opts))
	return rootCmd
}

// load 根据参数构建解析器
func (o *options) load() (*parser.Parser, error) {
	layoutName, encodingName := o.layout, o.encoding

	var s *schema.Schema
	var err error
	if o.schemaFile != "" {
		s, err = schema.LoadFile(o.schemaFile)
		if err != nil {
			return nil, err
		}
	} else {
		config, err := pkg.InitCommon(o.configDir)
		if err != nil {
			return nil, err
		}
		if s, err = schema.Build(config.Fields); err != nil {
			return nil, err
		}
		if s.Len() == 0 {
			return nil, fmt.Errorf("配置目录 %s 中没有 fields", o.configDir)
		}
		if layoutName == "" {
			layoutName = config.Decoder.Layout
		}
		if encodingName == "" {
			encodingName = config.Decoder.Encoding
		}
	}

	layout, err := decoder.ParseLayout(layoutName)
	if err != nil {
		return nil, err
	}
	if encodingName == "" || encodingName == "raw" {
		encodingName = "hex" // 命令行只能输入文本
	}
	enc, err := parser.ParseEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return parser.NewParser(decoder.New(s, layout), enc, nil).WithMetrics(pkg.NewPerformanceMetrics()), nil
}

// NewDecodeCommand 创建 decode 子命令
func NewDecodeCommand(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decode <payload>...",
		Short: "Decode one or more payloads and print the readings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, payload := range args {
				pp, err := p.Parse(&pkg.Message{Data: []byte(payload)})
				if err != nil {
					return fmt.Errorf("failed to decode %q: %w", payload, err)
				}
				if asJSON {
					if err := writeJSON(out, pp); err != nil {
						return err
					}
					continue
				}
				writeText(out, pp)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

type decodeResult struct {
	Device   string            `json:"device,omitempty"`
	Readings []decoder.Reading `json:"readings"`
	Errors   []string          `json:"errors"`
}

func writeJSON(w io.Writer, pp *pkg.PointPackage) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(decodeResult{Device: pp.Device, Readings: pp.Readings, Errors: pp.ErrorStrings()})
}

func writeText(w io.Writer, pp *pkg.PointPackage) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if pp.Device != "" {
		fmt.Fprintf(tw, "device\t%s\n", pp.Device)
	}
	for _, r := range pp.Readings {
		fmt.Fprintf(tw, "%s[%d]\t%v\n", r.Name, r.Channel, r.Value)
	}
	for _, e := range pp.ErrorStrings() {
		fmt.Fprintf(tw, "error\t%s\n", e)
	}
	_ = tw.Flush()
}

// NewSchemaCommand 创建 schema 子命令, 列出字段表
func NewSchemaCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "List the field schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.load()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tSIZE\tSIGNED\tDIVISOR")
			for _, e := range p.Decoder().Schema().Entries() {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%d\n", e.Code, e.Name, e.Size, e.Signed, e.Divisor)
			}
			fmt.Fprintf(tw, "layout: %s, encoding: %s\n", p.Decoder().Layout(), p.Encoding())
			return tw.Flush()
		},
	}
}
