package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPI・ページ・ライブ同期を提供するサーバーとして起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの掃除を行うワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はSTORE_DRIVERに応じたスキーマのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの/healthを確認して終了することを示す。
	// distrolessイメージにはcurlが無いため、DockerのHEALTHCHECKから呼ぶ。
	CommandHealthcheck Command = "healthcheck"
)

// commands は引数として受け付けるサブコマンド。
var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空、または未知のサブコマンドの場合はCommandServeを返す。
// 大文字小文字は区別する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
