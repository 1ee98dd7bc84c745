package zlog

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// dynamicLevel 全局可变级别，所有 logger 共享同一个实例
var dynamicLevel = zap.NewAtomicLevel()

func initLevel(lvl string) {
	dynamicLevel.SetLevel(parseLevel(lvl))
}

var levelNames = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

func parseLevel(lvl string) zapcore.Level {
	if level, ok := levelNames[strings.ToLower(lvl)]; ok {
		return level
	}
	return zap.InfoLevel
}

// SetLevel 热更新日志级别，未知级别回落到 info
func SetLevel(lvl string) {
	dynamicLevel.SetLevel(parseLevel(lvl))
}

// GetLevel 返回当前级别字符串
func GetLevel() string {
	return dynamicLevel.Level().String()
}

// LevelHTTPHandler 注册到 /log/level，PUT ?v=debug 改级别，GET 查级别
func LevelHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodPut {
			lvl := r.URL.Query().Get("v")
			if lvl == "" {
				lvl = r.FormValue("v")
			}
			if _, ok := levelNames[strings.ToLower(lvl)]; !ok {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown level"})
				return
			}
			SetLevel(lvl)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"level": GetLevel()})
	}
}
