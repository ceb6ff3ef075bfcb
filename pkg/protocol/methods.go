package protocol

// Lifecycle methods
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
)

// Document synchronization methods
const (
	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidSave   = "textDocument/didSave"
	MethodDidClose  = "textDocument/didClose"
)

// Language feature methods
const (
	MethodHover          = "textDocument/hover"
	MethodCompletion     = "textDocument/completion"
	MethodDefinition     = "textDocument/definition"
	MethodReferences     = "textDocument/references"
	MethodDocumentSymbol = "textDocument/documentSymbol"
	MethodCodeAction     = "textDocument/codeAction"
	MethodFormatting     = "textDocument/formatting"
	MethodRename         = "textDocument/rename"
	MethodSignatureHelp  = "textDocument/signatureHelp"
)

// Workspace and window methods
const (
	MethodWorkspaceSymbol        = "workspace/symbol"
	MethodExecuteCommand         = "workspace/executeCommand"
	MethodPublishDiagnostics     = "textDocument/publishDiagnostics"
	MethodLogMessage             = "window/logMessage"
	MethodShowMessage            = "window/showMessage"
	MethodCancelRequest          = "$/cancelRequest"
	MethodProgress               = "$/progress"
	MethodWorkspaceConfiguration = "workspace/configuration"
)

// window/logMessage severity values.
const (
	MessageTypeError   = 1
	MessageTypeWarning = 2
	MessageTypeInfo    = 3
	MessageTypeLog     = 4
)

// StandardMethods lists well-known LSP methods. Glob patterns in hook
// configuration expand against this set.
var StandardMethods = []string{
	MethodInitialize,
	MethodInitialized,
	MethodShutdown,
	MethodExit,
	MethodDidOpen,
	MethodDidChange,
	MethodDidSave,
	MethodDidClose,
	MethodHover,
	MethodCompletion,
	MethodDefinition,
	MethodReferences,
	MethodDocumentSymbol,
	MethodCodeAction,
	MethodFormatting,
	MethodRename,
	MethodSignatureHelp,
	MethodWorkspaceSymbol,
	MethodExecuteCommand,
	MethodPublishDiagnostics,
	MethodLogMessage,
	MethodShowMessage,
	MethodCancelRequest,
	MethodProgress,
	MethodWorkspaceConfiguration,
}
