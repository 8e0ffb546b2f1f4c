package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// minimal color palette for interactive console output. No theming knobs —
// one calm scheme, good enough for a daemon's stdout.
const (
	colorReset  = "\x1b[0m"
	colorDim    = "\x1b[2m"
	colorGreen  = "\x1b[38;5;108m"
	colorYellow = "\x1b[38;5;214m"
	colorRed    = "\x1b[38;5;167m"
	colorBlue   = "\x1b[38;5;109m"
)

var levelColor = map[zapcore.Level]string{
	zapcore.DebugLevel: colorDim,
	zapcore.InfoLevel:  colorGreen,
	zapcore.WarnLevel:  colorYellow,
	zapcore.ErrorLevel: colorRed,
}

type minimalEncoder struct {
	zapcore.Encoder
}

func newMinimalEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return &minimalEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

func (e *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{Encoder: e.Encoder.Clone()}
}

func (e *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	col := levelColor[ent.Level]
	if col == "" {
		col = colorBlue
	}

	var sb strings.Builder
	sb.WriteString(colorDim)
	sb.WriteString(ent.Time.Format("15:04:05"))
	sb.WriteString(colorReset)
	sb.WriteByte(' ')
	sb.WriteString(col)
	fmt.Fprintf(&sb, "%-5s", ent.Level.CapitalString())
	sb.WriteString(colorReset)
	sb.WriteByte(' ')
	sb.WriteString(ent.Message)

	for _, f := range fields {
		sb.WriteByte(' ')
		sb.WriteString(colorDim)
		sb.WriteString(f.Key)
		sb.WriteByte('=')
		sb.WriteString(colorReset)
		sb.WriteString(fieldValue(f))
	}
	sb.WriteByte('\n')

	buf := buffer.NewPool().Get()
	buf.AppendString(sb.String())
	return buf, nil
}

func fieldValue(f zapcore.Field) string {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.Int64Type, zapcore.Int32Type:
		return fmt.Sprintf("%d", f.Integer)
	case zapcore.BoolType:
		return fmt.Sprintf("%t", f.Integer == 1)
	default:
		if f.Interface != nil {
			return fmt.Sprintf("%v", f.Interface)
		}
		return fmt.Sprintf("%v", f.Integer)
	}
}
