package packer

// BuiltinRules 内置壳规则库
func BuiltinRules() []PackerRule {
	return []PackerRule{
		{
			Name:       "360 Jiagu",
			Type:       PackerTypeNative,
			NativeLibs: []string{"libjiagu.so", "libjiagu_x86.so", "libjiagu_a64.so", "libjiagu_x64.so"},
			Strings:    []string{"assets/libjiagu", "assets/jiagu"},
			ClassNames: []string{"com.stub.StubApp", "com.qihoo.util.QHClassLoader"},
			Priority:   100,
		},
		{
			Name:       "Tencent Legu",
			Type:       PackerTypeNative,
			NativeLibs: []string{"libshell.so", "libshellx.so", "libtxmsecurity.so", "libshellx-2.10.3.4.so"},
			Strings:    []string{"assets/tosversion", "assets/0oo0o"},
			ClassNames: []string{"com.tencent.StubShell.TxAppEntry"},
			Priority:   100,
		},
		{
			Name:       "Ijiami",
			Type:       PackerTypeNative,
			NativeLibs: []string{"libexec.so", "libexecmain.so"},
			Strings:    []string{"assets/ijiami", "ijiami.ajm"},
			ClassNames: []string{"com.shell.SuperApplication"},
			Priority:   100,
		},
		{
			Name:       "Bangcle SecNeo",
			Type:       PackerTypeNative,
			NativeLibs: []string{"libDexHelper.so", "libDexHelper-x86.so", "libSecShell.so", "libSecShell-x86.so"},
			Strings:    []string{"assets/secneo", "assets/bangcle"},
			ClassNames: []string{"com.secneo.apkwrapper.ApplicationWrapper"},
			Priority:   100,
		},
		{
			Name:       "NetEase Yidun",
			Type:       PackerTypeNative,
			NativeLibs: []string{"libnesec.so", "libNetHTProtect.so"},
			Strings:    []string{"assets/nis"},
			ClassNames: []string{"com.netease.nis.wrapper.MyApplication"},
			Priority:   95,
		},
		{
			Name:       "Baidu Protect",
			Type:       PackerTypeNative,
			NativeLibs: []string{"libbaiduprotect.so"},
			Strings:    []string{"assets/baiduprotect"},
			ClassNames: []string{"com.baidu.protect.StubApplication"},
			Priority:   90,
		},
		{
			Name:       "DexProtector",
			Type:       PackerTypeVMP,
			NativeLibs: []string{"libdexprotector.so"},
			Strings:    []string{"assets/dp.mp3", "dexprotector"},
			Priority:   80,
		},
		{
			Name:       "AppSealing",
			Type:       PackerTypeNative,
			NativeLibs: []string{"libAppSealing.so", "libAppSealingCore.so"},
			Strings:    []string{"assets/appsealing"},
			Priority:   75,
		},
		// 通用特征 (低优先级)
		{
			Name:     "unknown (tiny dex)",
			Type:     PackerTypeUnknown,
			FileSize: FileSizeRule{DEXMaxKB: 100},
			Priority: 10,
		},
		{
			Name:     "unknown (oversized native)",
			Type:     PackerTypeUnknown,
			FileSize: FileSizeRule{NativeMinMB: 10},
			Priority: 10,
		},
	}
}
