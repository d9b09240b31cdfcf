package log

import "log/slog"

func TraceID[T ~string](id T) slog.Attr {
	return slog.String("trace_id", string(id))
}

func Step[T ~string](name T) slog.Attr {
	return slog.String("step", string(name))
}

func FilePath(path string) slog.Attr {
	return slog.String("file_path", path)
}

func Topic(topic string) slog.Attr {
	return slog.String("topic", topic)
}

func Flows(flows []string) slog.Attr {
	return slog.Any("flows", flows)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
