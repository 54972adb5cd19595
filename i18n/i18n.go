// Package i18n localizes tskit's own messages.
//
// The CLI's summary lines go through T and N; gettext catalogs compiled
// into the binary under locales/ supply the translations. zh_CN ships
// first, matching the audience of the templates the tool processes; any
// locale without a catalog falls back to the English msgid.
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var catalogs embed.FS

var locale *gotext.Locale

// Init loads the catalog for lang, or for the locale the environment
// requests when lang is empty. Call it once before the first T or N.
func Init(lang string) {
	if lang == "" {
		lang = envLocale()
	}
	locale = gotext.NewLocaleFSWithPath(lang, catalogs, "locales")
	locale.AddDomain("tskit")
	locale.SetDomain("tskit")
}

// T returns the translation of msgid, or msgid itself when no catalog
// covers it.
func T(msgid string) string {
	if locale == nil {
		return msgid
	}
	return locale.Get(msgid)
}

// N is the plural form of T. The zh_CN catalog collapses both forms
// into one; the untranslated fallback picks by n == 1.
func N(singular, plural string, n int) string {
	if locale == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return locale.GetN(singular, plural, n)
}

// envLocale resolves the locale the environment asks for, walking
// LANGUAGE, LC_ALL, LC_MESSAGES, LANG in gettext precedence order.
// LANGUAGE may hold a colon-separated preference list; every candidate
// is considered, so "C:zh_CN" still reaches zh_CN. "C" and "POSIX"
// request no translation.
func envLocale() string {
	var candidates []string
	for _, name := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(name); v != "" {
			candidates = append(candidates, strings.Split(v, ":")...)
		}
	}
	for _, c := range candidates {
		switch c = trimEncoding(c); c {
		case "", "C", "POSIX":
		default:
			return c
		}
	}
	return "en"
}

// trimEncoding strips an ".encoding" suffix ("zh_CN.UTF-8" -> "zh_CN").
func trimEncoding(loc string) string {
	if i := strings.IndexByte(loc, '.'); i >= 0 {
		return loc[:i]
	}
	return loc
}
