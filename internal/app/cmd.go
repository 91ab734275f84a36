package app

import (
	"errors"
	"fmt"
)

// Command はauthgateの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はセッションインデックスの定期掃除を行うワーカーモード。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandPruneSessions はセッションインデックスを1回だけ掃除して終了する。
	CommandPruneSessions Command = "prune-sessions"
	// CommandRevokeSessions は指定ユーザーの全セッションを破棄して終了する。
	CommandRevokeSessions Command = "revoke-sessions"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Usage はサブコマンドの一覧。
const Usage = `usage: authgate [command]

commands:
  serve                     start the API server (default)
  worker                    prune the session index periodically
  migrate                   apply database migrations
  prune-sessions            prune the session index once and exit
  revoke-sessions <userID>  destroy every session of a user
  healthcheck               call /health on the local server`

// ErrUnknownCommand はサポート外のサブコマンドが指定された場合のエラー。
var ErrUnknownCommand = errors.New("unknown command")

// Invocation は解析済みのサブコマンドとその引数。
type Invocation struct {
	Command Command
	UserID  string
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はserve。サポート外のコマンドはErrUnknownCommandを返す。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	cmd := Command(args[0])
	switch cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandPruneSessions, CommandHealthcheck:
		return Invocation{Command: cmd}, nil
	case CommandRevokeSessions:
		if len(args) < 2 || args[1] == "" {
			return Invocation{}, fmt.Errorf("%s requires a user ID", cmd)
		}
		return Invocation{Command: cmd, UserID: args[1]}, nil
	default:
		return Invocation{}, fmt.Errorf("%w: %q", ErrUnknownCommand, args[0])
	}
}
