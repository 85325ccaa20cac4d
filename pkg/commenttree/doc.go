// Package commenttree はフラットなコメント一覧から返信ツリーを組み立てる。
//
// 記事サービスがコメント一覧の表示とカスケード削除に使う。
// ノードのアリーナと親から子への索引を1回の走査で作り、
// 明示的なスタックとキューで辿るため、深いツリーでも再帰しない。
package commenttree
