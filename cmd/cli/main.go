package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"uplink/cmd/cli/command"
)

// 打印欢迎信息和启动logo
func printWelcomeMessage() {
	PrintStartupLogo()
	fmt.Println("Welcome to the Uplink CLI REPL! Type 'exit' to quit.")
	fmt.Println("Type 'help' to see the list of available commands.")
}

// 打印帮助信息
func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  decode <payload>...  Decode payloads with the configured schema (--json for JSON output).")
	fmt.Println("  schema               List the field schema, layout and encoding.")
	fmt.Println("  help                 Show this help message.")
	fmt.Println("  exit                 Exit the REPL.")
	fmt.Println("Global flags: --config <dir> --schema <file> --layout padded|compact --encoding hex|base64|json")
}

func PrintStartupLogo() {
	logo := `
  _   _       _ _       _
 | | | |_ __ | (_)_ __ | | __
 | | | | '_ \| | | '_ \| |/ /
 | |_| | |_) | | | | | |   <
  \___/| .__/|_|_|_| |_|_|\_\
       |_|

`
	fmt.Print(logo)
}

func main() {
	// 带参数时直接执行一次, 便于脚本调用
	if len(os.Args) > 1 {
		if err := command.NewRootCommand().Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// 创建输入读取器
	scanner := bufio.NewScanner(os.Stdin)

	// 打印欢迎信息
	printWelcomeMessage()

	// 进入 REPL 循环
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "exit":
			fmt.Println("Exiting Uplink CLI...")
			return
		case "help":
			printHelp()
			continue
		}

		// 将用户输入拆分为命令和参数
		args := strings.Fields(input)
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "decode", "schema":
			// 每次新建根命令, 避免上一次的 flag 残留
			rootCmd := command.NewRootCommand()
			rootCmd.SetArgs(args)
			if err := rootCmd.Execute(); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		default:
			fmt.Printf("Unknown command: %s\n", args[0])
			fmt.Println("Type 'help' to see the list of available commands.")
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}
